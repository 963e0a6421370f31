package services

import (
	"context"

	"svchub/internal/provider"
)

// inProcessRunner backs a managed service with an in-process capability
// provider. Start and Stop map directly onto the provider contract.
type inProcessRunner struct {
	p provider.Provider
}

// NewInProcessRunner wraps a provider as a Runner.
func NewInProcessRunner(p provider.Provider) Runner {
	return &inProcessRunner{p: p}
}

func (r *inProcessRunner) Start(ctx context.Context) error {
	return r.p.Init(ctx)
}

func (r *inProcessRunner) Stop(ctx context.Context) error {
	return r.p.Shutdown(ctx)
}

func (r *inProcessRunner) Provider() provider.Provider {
	return r.p
}
