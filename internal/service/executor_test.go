package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/modules"
)

// TestExecutorSuccess verifies plain module execution
func TestExecutorSuccess(t *testing.T) {
	registry := modules.NewRegistry()
	registry.Register(10, &fakeModule{
		code:     "NETWORK",
		findings: []domain.RawFinding{finding("NETWORK", "exposure", "/nsg/web", "high", "port 22 open")},
	})
	e := NewExecutor(registry, time.Second)

	findings, err := e.Execute(context.Background(), &modules.Target{}, "NETWORK")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(findings) != 1 {
		t.Errorf("got %d findings, want 1", len(findings))
	}
}

// TestExecutorUnknownModule verifies resolution failures surface as errors
func TestExecutorUnknownModule(t *testing.T) {
	e := NewExecutor(modules.NewRegistry(), time.Second)
	_, err := e.Execute(context.Background(), &modules.Target{}, "NOPE")
	if err == nil {
		t.Fatal("expected error for unknown module code")
	}
}

// TestExecutorPanicRecovery verifies a panicking module becomes an error
// instead of crashing the worker
func TestExecutorPanicRecovery(t *testing.T) {
	registry := modules.NewRegistry()
	registry.Register(10, &fakeModule{code: "NETWORK", panicMsg: "nil map write"})
	e := NewExecutor(registry, time.Second)

	findings, err := e.Execute(context.Background(), &modules.Target{}, "NETWORK")
	if err == nil {
		t.Fatal("expected error from panicking module")
	}
	if !strings.Contains(err.Error(), "panicked") {
		t.Errorf("error should mention the panic, got: %v", err)
	}
	if findings != nil {
		t.Error("panicking module should return no findings")
	}
}

// TestExecutorTimeout verifies the per-module deadline is enforced
func TestExecutorTimeout(t *testing.T) {
	registry := modules.NewRegistry()
	registry.Register(10, &fakeModule{code: "MONITOR", block: true})
	e := NewExecutor(registry, 50*time.Millisecond)

	start := time.Now()
	_, err := e.Execute(context.Background(), &modules.Target{}, "MONITOR")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not enforced, took %s", elapsed)
	}
}

// TestExecutorPartialFindingsOnError verifies findings gathered before a
// failure are returned alongside the error
func TestExecutorPartialFindingsOnError(t *testing.T) {
	registry := modules.NewRegistry()
	registry.Register(10, &fakeModule{
		code:     "BACKUP",
		findings: []domain.RawFinding{finding("BACKUP", "coverage", "/sub/s1", "high", "no recovery vault")},
		err:      errors.New("vm listing failed"),
	})
	e := NewExecutor(registry, time.Second)

	findings, err := e.Execute(context.Background(), &modules.Target{}, "BACKUP")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(findings) != 1 {
		t.Errorf("partial findings lost: got %d, want 1", len(findings))
	}
}
