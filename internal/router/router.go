// Package router resolves routed requests to running services and forwards
// them to the providers behind them.
package router

import (
	"context"
	"sync"

	"svchub/internal/protocol"
	"svchub/internal/provider"
	"svchub/internal/services"
	"svchub/pkg/logging"
)

// Router dispatches routed requests against the lifecycle registry.
type Router struct {
	registry *services.Registry
}

// New creates a dispatch router over the given registry.
func New(registry *services.Registry) *Router {
	return &Router{registry: registry}
}

// Route resolves the request's target service and forwards the request to
// its provider. The transport-routing field is stripped before the request
// reaches the provider; provider responses and provider errors pass through
// unmodified.
func (rt *Router) Route(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	name := req.Service

	if !rt.registry.Has(name) {
		return nil, protocol.Errorf(protocol.CodeServiceNotFound, "service %q not found", name)
	}

	status, err := rt.registry.Status(name)
	if err != nil {
		return nil, protocol.AsError(err)
	}
	if status.State != services.StateRunning {
		return nil, protocol.Errorf(protocol.CodeServiceNotRunning,
			"service %q is not running (state: %s)", name, status.State)
	}

	p := rt.registry.Provider(name)
	if p == nil {
		return nil, protocol.Errorf(protocol.CodeUnsupportedTransport,
			"service %q is lifecycle-managed only and cannot be invoked", name)
	}

	forwarded := *req
	forwarded.Service = ""

	resp, err := p.HandleRequest(ctx, &forwarded)
	if err != nil {
		logging.Error("Router", err, "Provider %s failed handling %s", name, req.Method)
		return nil, err
	}
	return resp, nil
}

// Broadcast fans a method out to every currently running, addressable
// service and waits for all of them to settle. Failures are logged and
// omitted; the result map contains successes only.
func (rt *Router) Broadcast(ctx context.Context, method string, params map[string]interface{}) map[string]*protocol.Response {
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]*protocol.Response)

	for _, status := range rt.registry.Statuses() {
		if status.State != services.StateRunning {
			continue
		}
		p := rt.registry.Provider(status.Name)
		if p == nil {
			continue
		}

		wg.Add(1)
		go func(name string, p provider.Provider) {
			defer wg.Done()

			req := &protocol.Request{ID: name, Method: method, Params: params}
			resp, err := p.HandleRequest(ctx, req)
			if err != nil {
				logging.Warn("Router", "Broadcast %s to %s failed: %v", method, name, err)
				return
			}

			mu.Lock()
			results[name] = resp
			mu.Unlock()
		}(status.Name, p)
	}

	wg.Wait()
	return results
}
