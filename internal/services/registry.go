package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"svchub/internal/config"
	"svchub/internal/provider"
	"svchub/pkg/logging"
)

// stopReason tracks why a service was stopped. Distinguishing a manual stop
// from a crash is what keeps the restart policy from fighting the user.
type stopReason int

const (
	stopReasonNone stopReason = iota
	stopReasonManual
)

// managedService is one registry entry. Entries are created once from
// static configuration, never destroyed, and only transitioned.
type managedService struct {
	def    config.ServiceDefinition
	runner Runner

	// opMu serializes start/stop/restart for this service so two
	// instances of the same service can never run concurrently.
	opMu sync.Mutex

	// mu guards the status fields below.
	mu           sync.RWMutex
	state        ServiceState
	startedAt    time.Time
	lastError    error
	restartCount int
	stopReason   stopReason
}

func (ms *managedService) snapshot() Status {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	st := Status{
		Name:         ms.def.Name,
		State:        ms.state,
		RestartCount: ms.restartCount,
	}
	if !ms.startedAt.IsZero() && ms.state == StateRunning {
		t := ms.startedAt
		st.StartedAt = &t
	}
	if ms.lastError != nil {
		st.LastError = ms.lastError.Error()
	}
	return st
}

// Registry is the lifecycle registry: the sole owner and mutator of managed
// service status. It starts, stops, restarts and auto-recovers services and
// publishes lifecycle events to subscribers.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*managedService
	order    []string

	subMu       sync.RWMutex
	subscribers []chan Event

	// closed stops scheduled restarts from firing during shutdown.
	closed   bool
	closedMu sync.RWMutex

	restartWG sync.WaitGroup
}

// NewRegistry builds a registry from static configuration. In-process
// definitions are resolved through the provider registry once, at
// registration time; unknown modules fail construction.
func NewRegistry(defs []config.ServiceDefinition, providers *provider.Registry) (*Registry, error) {
	r := &Registry{
		services: make(map[string]*managedService, len(defs)),
	}

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.services[def.Name]; exists {
			return nil, fmt.Errorf("duplicate service name %q", def.Name)
		}

		ms := &managedService{def: def, state: StateStopped}

		if def.IsProcess() {
			name := def.Name
			ms.runner = NewProcessRunner(def, func(err error) {
				r.handleUnexpectedExit(name, err)
			})
		} else {
			p, err := providers.New(def.Module, def.Config)
			if err != nil {
				return nil, fmt.Errorf("service %q: %w", def.Name, err)
			}
			ms.runner = NewInProcessRunner(p)
		}

		r.services[def.Name] = ms
		r.order = append(r.order, def.Name)
	}

	return r, nil
}

// Has reports whether a service with the given name is configured.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// Names returns all configured service names in configuration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Status returns the current snapshot of one service.
func (r *Registry) Status(name string) (Status, error) {
	ms := r.lookup(name)
	if ms == nil {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return ms.snapshot(), nil
}

// Statuses returns snapshots of all services in configuration order.
func (r *Registry) Statuses() []Status {
	names := r.Names()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		if ms := r.lookup(name); ms != nil {
			out = append(out, ms.snapshot())
		}
	}
	return out
}

// Provider returns the in-process provider behind a running service, or nil
// when the service is an external process or unknown.
func (r *Registry) Provider(name string) provider.Provider {
	ms := r.lookup(name)
	if ms == nil {
		return nil
	}
	return ms.runner.Provider()
}

func (r *Registry) lookup(name string) *managedService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[name]
}

// Start starts a service by name. Starting an already-running service is a
// no-op. A start failure marks the service errored, triggers restart
// handling per policy, and is returned to the caller.
func (r *Registry) Start(ctx context.Context, name string) error {
	ms := r.lookup(name)
	if ms == nil {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	ms.opMu.Lock()
	defer ms.opMu.Unlock()
	return r.startLocked(ctx, ms, true)
}

// startLocked performs the start transition. Callers hold ms.opMu.
// resetCounter is true for caller-initiated starts, which begin a fresh
// recovery budget; policy-scheduled restarts keep accumulating so the
// attempt cap can ever be reached.
func (r *Registry) startLocked(ctx context.Context, ms *managedService, resetCounter bool) error {
	ms.mu.Lock()
	if ms.state == StateRunning {
		ms.mu.Unlock()
		return nil
	}
	ms.state = StateStarting
	ms.stopReason = stopReasonNone
	ms.mu.Unlock()

	logging.Debug("Registry", "Starting service %s", ms.def.Name)

	if err := ms.runner.Start(ctx); err != nil {
		ms.mu.Lock()
		ms.state = StateError
		ms.lastError = err
		ms.mu.Unlock()

		logging.Error("Registry", err, "Service %s failed to start", ms.def.Name)
		r.publish(Event{Service: ms.def.Name, Type: EventError, State: StateError, Error: err.Error()})
		r.maybeScheduleRestart(ms)
		return fmt.Errorf("failed to start service %s: %w", ms.def.Name, err)
	}

	ms.mu.Lock()
	ms.state = StateRunning
	ms.startedAt = time.Now()
	ms.lastError = nil
	if resetCounter {
		ms.restartCount = 0
	}
	ms.mu.Unlock()

	logging.Info("Registry", "Started service: %s", ms.def.Name)
	r.publish(Event{Service: ms.def.Name, Type: EventStarted, State: StateRunning})
	return nil
}

// Stop stops a service by name. Stopping an already-stopped service is a
// no-op. A manual stop never triggers the restart policy.
func (r *Registry) Stop(ctx context.Context, name string) error {
	ms := r.lookup(name)
	if ms == nil {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	ms.opMu.Lock()
	defer ms.opMu.Unlock()
	return r.stopLocked(ctx, ms)
}

func (r *Registry) stopLocked(ctx context.Context, ms *managedService) error {
	ms.mu.Lock()
	if ms.state == StateStopped {
		ms.mu.Unlock()
		return nil
	}
	ms.stopReason = stopReasonManual
	ms.mu.Unlock()

	logging.Debug("Registry", "Stopping service %s", ms.def.Name)

	err := ms.runner.Stop(ctx)

	ms.mu.Lock()
	ms.state = StateStopped
	ms.startedAt = time.Time{}
	if err != nil {
		ms.lastError = err
	}
	ms.mu.Unlock()

	if err != nil {
		logging.Warn("Registry", "Service %s stop reported error: %v", ms.def.Name, err)
	}

	logging.Info("Registry", "Stopped service: %s", ms.def.Name)
	r.publish(Event{Service: ms.def.Name, Type: EventStopped, State: StateStopped})
	return err
}

// Restart performs a strictly sequential stop-then-start of one service.
// The per-service operation lock is held across both phases, so two
// instances of the same service can never exist concurrently.
func (r *Registry) Restart(ctx context.Context, name string) error {
	ms := r.lookup(name)
	if ms == nil {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	ms.opMu.Lock()
	defer ms.opMu.Unlock()

	if err := r.stopLocked(ctx, ms); err != nil {
		return fmt.Errorf("failed to stop service %s during restart: %w", name, err)
	}
	return r.startLocked(ctx, ms, true)
}

// Initialize starts all auto-start services concurrently and waits for all
// of them to settle. A failing service never blocks the others; their
// errors are collected and returned joined.
func (r *Registry) Initialize(ctx context.Context) error {
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error

	for _, name := range r.Names() {
		ms := r.lookup(name)
		if ms == nil || !ms.def.AutoStart {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := r.Start(ctx, name); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Shutdown stops all services concurrently, collecting outcomes without
// treating any single failure as fatal, then cancels pending restarts and
// closes all event subscriptions.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.closedMu.Lock()
	r.closed = true
	r.closedMu.Unlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error

	for _, name := range r.Names() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := r.Stop(ctx, name); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("stopping %s: %w", name, err))
				errMu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	r.restartWG.Wait()

	r.subMu.Lock()
	for _, ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = nil
	r.subMu.Unlock()

	return errors.Join(errs...)
}

// handleUnexpectedExit is invoked by process runners when a service process
// terminates without a stop having been requested.
func (r *Registry) handleUnexpectedExit(name string, exitErr error) {
	ms := r.lookup(name)
	if ms == nil {
		return
	}

	// Serialize with an in-flight start or stop. A process that dies inside
	// the start window must be recorded after the start transition settles,
	// not overwritten by it.
	ms.opMu.Lock()
	defer ms.opMu.Unlock()

	ms.mu.Lock()
	if ms.stopReason == stopReasonManual {
		// Termination raced a manual stop; nothing to recover.
		ms.mu.Unlock()
		return
	}
	ms.state = StateError
	if exitErr != nil {
		ms.lastError = exitErr
	} else {
		ms.lastError = fmt.Errorf("process exited unexpectedly")
	}
	errMsg := ms.lastError.Error()
	ms.mu.Unlock()

	logging.Warn("Registry", "Service %s terminated unexpectedly: %s", name, errMsg)
	r.publish(Event{Service: name, Type: EventError, State: StateError, Error: errMsg})

	r.maybeScheduleRestart(ms)
}

// maybeScheduleRestart applies the restart policy after a failure. At the
// attempt cap the service stays in error permanently; below it, a start is
// scheduled after the flat policy delay.
func (r *Registry) maybeScheduleRestart(ms *managedService) {
	policy := ms.def.Restart
	if !policy.OnFailure {
		return
	}

	r.closedMu.RLock()
	closed := r.closed
	r.closedMu.RUnlock()
	if closed {
		return
	}

	ms.mu.Lock()
	if ms.restartCount >= policy.MaxAttempts {
		ms.mu.Unlock()
		logging.Warn("Registry", "Service %s reached restart cap (%d), staying in error",
			ms.def.Name, policy.MaxAttempts)
		return
	}
	ms.restartCount++
	attempt := ms.restartCount
	ms.mu.Unlock()

	delay := policy.Delay
	if delay <= 0 {
		delay = config.DefaultRestartDelay
	}

	logging.Info("Registry", "Scheduling restart %d/%d of service %s in %s",
		attempt, policy.MaxAttempts, ms.def.Name, delay)
	r.publish(Event{Service: ms.def.Name, Type: EventRestarting, State: StateError})

	r.restartWG.Add(1)
	time.AfterFunc(delay, func() {
		defer r.restartWG.Done()

		r.closedMu.RLock()
		closed := r.closed
		r.closedMu.RUnlock()
		if closed {
			return
		}

		ms.opMu.Lock()
		defer ms.opMu.Unlock()

		ms.mu.RLock()
		reason := ms.stopReason
		ms.mu.RUnlock()
		if reason == stopReasonManual {
			// The user stopped the service while the restart was pending.
			return
		}

		if err := r.startLocked(context.Background(), ms, false); err != nil {
			logging.Error("Registry", err, "Scheduled restart of %s failed", ms.def.Name)
		}
	})
}

// Subscribe returns a channel receiving lifecycle events. Slow subscribers
// drop events rather than block the registry. Short-lived consumers must
// call Unsubscribe when done; only daemon-lifetime subscribers may rely on
// Shutdown closing the channel.
func (r *Registry) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription obtained from Subscribe and closes its
// channel. Unknown channels, including ones already closed by Shutdown, are
// ignored.
func (r *Registry) Unsubscribe(ch <-chan Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for i, sub := range r.subscribers {
		if (<-chan Event)(sub) == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Subscribers returns the number of active event subscriptions.
func (r *Registry) Subscribers() int {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	return len(r.subscribers)
}

func (r *Registry) publish(event Event) {
	r.subMu.RLock()
	subscribers := make([]chan Event, len(r.subscribers))
	copy(subscribers, r.subscribers)
	r.subMu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			logging.Warn("Registry", "Dropped %s event for %s (subscriber channel full)",
				event.Type, event.Service)
		}
	}
}
