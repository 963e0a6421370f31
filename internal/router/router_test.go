package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svchub/internal/config"
	"svchub/internal/protocol"
	"svchub/internal/provider"
	"svchub/internal/services"
)

func newTestSetup(t *testing.T, defs []config.ServiceDefinition) (*services.Registry, *Router) {
	t.Helper()

	providers := provider.NewRegistry()
	require.NoError(t, providers.Register("echo", func(cfg map[string]interface{}) (provider.Provider, error) {
		return provider.NewEchoProvider(), nil
	}))

	registry, err := services.NewRegistry(defs, providers)
	require.NoError(t, err)
	return registry, New(registry)
}

func TestRoute_ServiceNotFound(t *testing.T) {
	_, rt := newTestSetup(t, nil)

	_, err := rt.Route(context.Background(), &protocol.Request{
		ID: "1", Service: "ghost", Method: "echo",
	})
	require.Error(t, err)

	pe := protocol.AsError(err)
	// An unconfigured name is always SERVICE_NOT_FOUND, never an internal
	// error.
	assert.Equal(t, protocol.CodeServiceNotFound, pe.Code)
}

func TestRoute_ServiceNotRunning(t *testing.T) {
	_, rt := newTestSetup(t, []config.ServiceDefinition{
		{Name: "alpha", Module: "echo"},
	})

	_, err := rt.Route(context.Background(), &protocol.Request{
		ID: "1", Service: "alpha", Method: "echo",
	})
	require.Error(t, err)

	// Configured but stopped is distinct from not found.
	pe := protocol.AsError(err)
	assert.Equal(t, protocol.CodeServiceNotRunning, pe.Code)
}

func TestRoute_LifecycleOnlyService(t *testing.T) {
	registry, rt := newTestSetup(t, []config.ServiceDefinition{
		{Name: "external", Command: []string{"sh", "-c", "sleep 60"}},
	})
	ctx := context.Background()

	require.NoError(t, registry.Start(ctx, "external"))
	defer func() { _ = registry.Stop(ctx, "external") }()

	_, err := rt.Route(ctx, &protocol.Request{ID: "1", Service: "external", Method: "anything"})
	require.Error(t, err)

	pe := protocol.AsError(err)
	assert.Equal(t, protocol.CodeUnsupportedTransport, pe.Code)
}

func TestRoute_ForwardsToProvider(t *testing.T) {
	registry, rt := newTestSetup(t, []config.ServiceDefinition{
		{Name: "alpha", Module: "echo"},
	})
	ctx := context.Background()
	require.NoError(t, registry.Start(ctx, "alpha"))

	resp, err := rt.Route(ctx, &protocol.Request{
		ID:      "req-7",
		Service: "alpha",
		Method:  "echo",
		Params:  map[string]interface{}{"message": "hi"},
	})
	require.NoError(t, err)

	assert.Equal(t, "req-7", resp.ID)
	assert.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hi", result["message"])
}

func TestRoute_ProviderErrorPassesThrough(t *testing.T) {
	registry, rt := newTestSetup(t, []config.ServiceDefinition{
		{Name: "alpha", Module: "echo"},
	})
	ctx := context.Background()
	require.NoError(t, registry.Start(ctx, "alpha"))

	_, err := rt.Route(ctx, &protocol.Request{ID: "1", Service: "alpha", Method: "nope"})
	require.Error(t, err)

	// The provider's typed error is re-raised unmodified.
	pe := protocol.AsError(err)
	assert.Equal(t, protocol.CodeMethodNotFound, pe.Code)
}

func TestBroadcast_SuccessOnlyResults(t *testing.T) {
	registry, rt := newTestSetup(t, []config.ServiceDefinition{
		{Name: "a", Module: "echo"},
		{Name: "b", Module: "echo"},
		{Name: "stopped", Module: "echo"},
	})
	ctx := context.Background()
	require.NoError(t, registry.Start(ctx, "a"))
	require.NoError(t, registry.Start(ctx, "b"))

	results := rt.Broadcast(ctx, "time", nil)

	// Two running services produce exactly two result entries; the
	// stopped one is absent, not errored.
	assert.Len(t, results, 2)
	assert.Contains(t, results, "a")
	assert.Contains(t, results, "b")
	assert.NotContains(t, results, "stopped")
}

func TestBroadcast_FailuresOmitted(t *testing.T) {
	registry, rt := newTestSetup(t, []config.ServiceDefinition{
		{Name: "a", Module: "echo"},
		{Name: "b", Module: "echo"},
	})
	ctx := context.Background()
	require.NoError(t, registry.Start(ctx, "a"))
	require.NoError(t, registry.Start(ctx, "b"))

	// No provider implements this method; failures are silent.
	results := rt.Broadcast(ctx, "does_not_exist", nil)
	assert.Empty(t, results)
}
