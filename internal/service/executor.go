package service

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/modules"
)

// Executor is the uniform envelope around heterogeneous audit modules. It
// resolves the module, enforces the per-module timeout, and normalizes
// panics into errors so one module can never crash the worker.
type Executor struct {
	registry *modules.Registry
	timeout  time.Duration
}

// NewExecutor creates an executor over the given module registry.
func NewExecutor(registry *modules.Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Executor{registry: registry, timeout: timeout}
}

// Execute runs one module against the target. Findings collected before a
// failure are returned alongside the error.
func (e *Executor) Execute(ctx context.Context, target *modules.Target, code string) (findings []domain.RawFinding, err error) {
	module, err := e.registry.Resolve(code)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			findings = nil
			err = fmt.Errorf("module %s panicked: %v", code, r)
		}
	}()

	findings, err = module.Collect(ctx, target)
	if err != nil {
		return findings, fmt.Errorf("module %s: %w", code, err)
	}
	return findings, nil
}
