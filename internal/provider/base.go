package provider

import (
	"context"
	"sync"

	"svchub/internal/protocol"
)

// InvokeFunc is the handler for one capability.
type InvokeFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Base is a reusable Provider implementation that dispatches requests to
// registered capability handlers. Concrete providers embed it and register
// their capabilities during construction or Init.
type Base struct {
	mu           sync.RWMutex
	capabilities []Capability
	handlers     map[string]InvokeFunc
}

// NewBase creates an empty Base provider.
func NewBase() *Base {
	return &Base{handlers: make(map[string]InvokeFunc)}
}

// AddCapability registers a capability and its handler.
func (b *Base) AddCapability(cap Capability, handler InvokeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capabilities = append(b.capabilities, cap)
	b.handlers[cap.Name] = handler
}

// Init implements Provider. Embedders override it when they hold resources.
func (b *Base) Init(ctx context.Context) error { return nil }

// Shutdown implements Provider.
func (b *Base) Shutdown(ctx context.Context) error { return nil }

// Capabilities implements Provider.
func (b *Base) Capabilities() []Capability {
	b.mu.RLock()
	defer b.mu.RUnlock()
	caps := make([]Capability, len(b.capabilities))
	copy(caps, b.capabilities)
	return caps
}

// Invoke implements Provider.
func (b *Base) Invoke(ctx context.Context, capability string, args map[string]interface{}) (interface{}, error) {
	b.mu.RLock()
	handler, ok := b.handlers[capability]
	b.mu.RUnlock()
	if !ok {
		return nil, protocol.Errorf(protocol.CodeMethodNotFound, "unknown capability %q", capability)
	}
	return handler(ctx, args)
}

// HandleRequest implements Provider by dispatching the request method as a
// capability invocation. The response is correlated to the request ID.
func (b *Base) HandleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	result, err := b.Invoke(ctx, req.Method, req.Params)
	if err != nil {
		return nil, err
	}
	return protocol.NewResponse(req.ID, result), nil
}
