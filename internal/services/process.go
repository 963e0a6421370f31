package services

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"svchub/internal/config"
	"svchub/internal/provider"
	"svchub/pkg/logging"
)

// ServiceNameEnv is injected into every spawned service process so the
// child can identify itself.
const ServiceNameEnv = "SVCHUB_SERVICE"

// DefaultStopGrace is how long a process gets to exit after SIGTERM before
// it is killed.
const DefaultStopGrace = 10 * time.Second

// processRunner manages one external service process. The process is
// spawned in its own process group so the whole tree can be signalled.
// External processes have no routing bridge into the dispatch router; they
// are observed and lifecycle-managed only.
type processRunner struct {
	def       config.ServiceDefinition
	stopGrace time.Duration

	// onExit is called when the process terminates without Stop having
	// been requested. err is non-nil for a non-zero exit.
	onExit func(err error)

	mu       sync.Mutex
	cmd      *exec.Cmd
	stopChan chan struct{}
	done     chan struct{}
}

// NewProcessRunner creates a runner for an external command definition.
func NewProcessRunner(def config.ServiceDefinition, onExit func(err error)) Runner {
	return &processRunner{
		def:       def,
		stopGrace: DefaultStopGrace,
		onExit:    onExit,
	}
}

func (r *processRunner) Provider() provider.Provider { return nil }

// Start spawns the configured command with the merged environment and
// begins watching it. It returns once the process has been started.
func (r *processRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return fmt.Errorf("process for %s already running", r.def.Name)
	}

	label := r.def.Name

	cmd := exec.Command(r.def.Command[0], r.def.Command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = r.def.WorkDir

	// Merged environment: process env, per-service overrides, then the
	// injected service name variable.
	cmd.Env = os.Environ()
	for k, v := range r.def.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", ServiceNameEnv, label))

	stdoutPipe, pipeErr := cmd.StdoutPipe()
	if pipeErr != nil {
		return fmt.Errorf("stdout pipe for %s: %w", label, pipeErr)
	}
	stderrPipe, pipeErr := cmd.StderrPipe()
	if pipeErr != nil {
		stdoutPipe.Close()
		return fmt.Errorf("stderr pipe for %s: %w", label, pipeErr)
	}

	stopChan := make(chan struct{})
	done := make(chan struct{})

	if err := cmd.Start(); err != nil {
		stdoutPipe.Close()
		stderrPipe.Close()
		return fmt.Errorf("failed to start %s (%s): %w", label, r.def.Command[0], err)
	}

	pid := cmd.Process.Pid
	logging.Debug("Process", "Started %s (PID %d): %v", label, pid, r.def.Command)

	// Drain pipes line by line into the service log.
	go func() {
		scanner := bufio.NewScanner(stdoutPipe)
		for scanner.Scan() {
			logging.Debug("Process", "[%s stdout] %s", label, scanner.Text())
		}
	}()
	go func() {
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			logging.Debug("Process", "[%s stderr] %s", label, scanner.Text())
		}
	}()

	go r.watch(cmd, pid, stopChan, done)

	r.cmd = cmd
	r.stopChan = stopChan
	r.done = done
	return nil
}

// watch waits for the process to exit or for a stop request, whichever
// comes first.
func (r *processRunner) watch(cmd *exec.Cmd, pid int, stopChan, done chan struct{}) {
	defer close(done)

	label := r.def.Name
	processDone := make(chan error, 1)
	go func() { processDone <- cmd.Wait() }()

	select {
	case err := <-processDone:
		// Unexpected termination: the watcher got here before any stop
		// request. Clear runtime state and notify the registry.
		r.mu.Lock()
		r.cmd = nil
		r.stopChan = nil
		r.mu.Unlock()

		if err != nil {
			logging.Warn("Process", "%s (PID %d) exited with error: %v", label, pid, err)
		} else {
			logging.Info("Process", "%s (PID %d) exited", label, pid)
		}
		// Notify off the watcher goroutine: the callback serializes with
		// lifecycle operations, and Stop waits for this goroutine's done
		// channel while holding the operation lock.
		if r.onExit != nil {
			go r.onExit(err)
		}

	case <-stopChan:
		// Graceful termination: SIGTERM the process group, give it the
		// grace period, then SIGKILL.
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
			logging.Warn("Process", "Failed to signal %s (PID %d): %v", label, pid, err)
		}
		select {
		case <-processDone:
			logging.Debug("Process", "%s (PID %d) exited after SIGTERM", label, pid)
		case <-time.After(r.stopGrace):
			logging.Warn("Process", "%s (PID %d) did not exit within %s, killing", label, pid, r.stopGrace)
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
				logging.Warn("Process", "Failed to kill %s (PID %d): %v", label, pid, err)
			}
			<-processDone
		}

		r.mu.Lock()
		r.cmd = nil
		r.stopChan = nil
		r.mu.Unlock()
	}
}

// Stop requests graceful termination and waits for the watcher to finish.
func (r *processRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	stopChan := r.stopChan
	done := r.done
	r.mu.Unlock()

	if stopChan == nil {
		// Process already gone.
		return nil
	}

	close(stopChan)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
