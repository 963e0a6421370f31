package provider

import (
	"context"
	"time"
)

// NewEchoProvider returns a minimal built-in provider used for smoke
// testing a deployment: it echoes its arguments back and reports the
// current server time.
func NewEchoProvider() Provider {
	b := NewBase()

	b.AddCapability(Capability{
		Name:        "echo",
		Description: "Echo the given arguments back to the caller.",
		Parameters: map[string]interface{}{
			"message": map[string]interface{}{"type": "string"},
		},
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return args, nil
	})

	b.AddCapability(Capability{
		Name:        "time",
		Description: "Report the current server time.",
	}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"time": time.Now().UTC().Format(time.RFC3339)}, nil
	})

	return b
}
