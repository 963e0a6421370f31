package services

import (
	"context"
	"errors"
	"time"

	"svchub/internal/provider"
)

// ServiceState represents the current lifecycle state of a managed service.
type ServiceState string

const (
	StateStopped  ServiceState = "stopped"
	StateStarting ServiceState = "starting"
	StateRunning  ServiceState = "running"
	StateError    ServiceState = "error"
)

// Status is a point-in-time snapshot of a managed service. Snapshots are
// values; mutating one never affects the registry.
type Status struct {
	Name         string       `json:"name"`
	State        ServiceState `json:"state"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	LastError    string       `json:"lastError,omitempty"`
	RestartCount int          `json:"restartCount"`
}

// EventType classifies lifecycle events emitted by the registry.
type EventType string

const (
	EventStarted    EventType = "started"
	EventStopped    EventType = "stopped"
	EventError      EventType = "error"
	EventRestarting EventType = "restarting"
)

// Event is delivered to subscribers whenever a managed service transitions.
type Event struct {
	Service string       `json:"service"`
	Type    EventType    `json:"type"`
	State   ServiceState `json:"state"`
	Error   string       `json:"error,omitempty"`
}

// Runner starts and stops the workload behind a managed service. The
// registry owns all status bookkeeping; runners only do the work.
type Runner interface {
	// Start launches the workload. It returns once the workload is up or
	// with the error that prevented it from coming up.
	Start(ctx context.Context) error

	// Stop terminates the workload, waiting a bounded grace period for a
	// clean exit before forcing termination.
	Stop(ctx context.Context) error

	// Provider returns the in-process provider behind this runner, or nil
	// for external processes, which are lifecycle-managed but not
	// addressable by the dispatch router.
	Provider() provider.Provider
}

// ErrUnknownService is returned for operations on a name that was never
// configured.
var ErrUnknownService = errors.New("unknown service")
