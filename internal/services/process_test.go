package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svchub/internal/config"
)

func TestProcessRunner_StartStop(t *testing.T) {
	runner := NewProcessRunner(config.ServiceDefinition{
		Name:    "sleeper",
		Command: []string{"sh", "-c", "sleep 60"},
	}, func(err error) {
		t.Errorf("unexpected exit callback: %v", err)
	})

	ctx := context.Background()
	require.NoError(t, runner.Start(ctx))
	assert.Nil(t, runner.Provider())

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Stop(stopCtx))
}

func TestProcessRunner_UnexpectedExitReported(t *testing.T) {
	exitCh := make(chan error, 1)
	runner := NewProcessRunner(config.ServiceDefinition{
		Name:    "crasher",
		Command: []string{"sh", "-c", "exit 3"},
	}, func(err error) {
		exitCh <- err
	})

	require.NoError(t, runner.Start(context.Background()))

	select {
	case err := <-exitCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exit status 3")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}

	// Stopping after the process is gone is a no-op.
	assert.NoError(t, runner.Stop(context.Background()))
}

func TestProcessRunner_CleanExitReportsNilError(t *testing.T) {
	exitCh := make(chan error, 1)
	runner := NewProcessRunner(config.ServiceDefinition{
		Name:    "oneshot",
		Command: []string{"true"},
	}, func(err error) {
		exitCh <- err
	})

	require.NoError(t, runner.Start(context.Background()))

	select {
	case err := <-exitCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}
}

func TestProcessRunner_EnvironmentInjection(t *testing.T) {
	def := config.ServiceDefinition{
		Name:    "envcheck",
		Command: []string{"sh", "-c", `test "$SVCHUB_SERVICE" = envcheck && test "$EXTRA" = value`},
		Env:     map[string]string{"EXTRA": "value"},
	}

	exitCh := make(chan error, 1)
	runner := NewProcessRunner(def, func(err error) { exitCh <- err })

	require.NoError(t, runner.Start(context.Background()))

	select {
	case err := <-exitCh:
		// A zero exit means both variables were present in the child.
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}
}
