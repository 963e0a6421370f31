// Package provider defines the contract between the orchestrator core and
// in-process capability providers. The orchestrator never knows what a
// provider does; it only initializes it, routes requests to it and shuts
// it down.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"svchub/internal/protocol"
)

// Capability describes one invokable operation a provider exposes.
type Capability struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Provider is implemented by every in-process capability provider.
type Provider interface {
	// Init prepares the provider for use. It is called by the lifecycle
	// registry during service start and must be safe to call again after
	// Shutdown.
	Init(ctx context.Context) error

	// Shutdown releases provider resources. Called during service stop.
	Shutdown(ctx context.Context) error

	// Capabilities returns the operations this provider advertises.
	Capabilities() []Capability

	// Invoke executes a single named capability.
	Invoke(ctx context.Context, capability string, args map[string]interface{}) (interface{}, error)

	// HandleRequest handles a routed request whose Service field has
	// already been stripped by the router.
	HandleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// Factory constructs a provider from its service-level configuration block.
type Factory func(cfg map[string]interface{}) (Provider, error)

// Registry maps module names from configuration to provider factories.
// The composition root registers built-ins once at startup; afterwards the
// registry is read-only.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given module name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("provider module %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New builds a provider for the given module name.
func (r *Registry) New(name string, cfg map[string]interface{}) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider module %q", name)
	}
	return factory(cfg)
}

// Modules returns the sorted names of all registered modules.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
