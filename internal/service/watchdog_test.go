package service

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/modules"
)

func newWatchdogFixture(t *testing.T, registry *modules.Registry) (*Watchdog, *orchestratorFixture) {
	t.Helper()
	fx := newOrchestratorFixture(t, registry, nil)
	w := NewWatchdog(fx.assessments, fx.orchestrator, fx.queue, nil, time.Minute, 5*time.Minute)
	return w, fx
}

// TestWatchdogRequeuesStaleJob verifies a stale running job with unfinished
// modules is flagged stuck and requeued
func TestWatchdogRequeuesStaleJob(t *testing.T) {
	registry := modules.NewRegistry()
	registry.Register(10, &fakeModule{code: "NETWORK"})
	w, fx := newWatchdogFixture(t, registry)
	ctx := context.Background()

	jobID, err := fx.orchestrator.Start(ctx, fx.customer.ID, fx.conn.ID, []string{"NETWORK"}, domain.TriggerManual)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Drain the Start signal so the sweep's signal is observable.
	<-fx.queue.C()

	// Claim with a heartbeat far in the past: a worker died mid-run.
	staleTime := time.Now().Add(-30 * time.Minute)
	if _, err := fx.assessments.ClaimJob(ctx, jobID, staleTime); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	job, err := fx.assessments.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("failed to load job: %v", err)
	}
	if job.Status != domain.JobStatusQueued {
		t.Errorf("job status = %s, want queued after recovery", job.Status)
	}
	if !job.Stuck {
		t.Error("recovered job should carry the stuck flag")
	}

	select {
	case got := <-fx.queue.C():
		if got != jobID {
			t.Errorf("queue signal = %s, want %s", got, jobID)
		}
	default:
		t.Error("sweep did not signal the queue")
	}
}

// TestWatchdogForceCompletesFinishedJob verifies a job whose modules all
// finished but whose completion was lost gets finalized, not re-run
func TestWatchdogForceCompletesFinishedJob(t *testing.T) {
	network := &fakeModule{code: "NETWORK"}
	registry := modules.NewRegistry()
	registry.Register(10, network)
	w, fx := newWatchdogFixture(t, registry)
	ctx := context.Background()

	jobID, err := fx.orchestrator.Start(ctx, fx.customer.ID, fx.conn.ID, []string{"NETWORK"}, domain.TriggerManual)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	staleTime := time.Now().Add(-30 * time.Minute)
	if _, err := fx.assessments.ClaimJob(ctx, jobID, staleTime); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := fx.assessments.FinishModule(ctx, jobID, "NETWORK", domain.ModuleStatusCompleted, 0, "", 5); err != nil {
		t.Fatalf("failed to finish NETWORK: %v", err)
	}

	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	job, err := fx.assessments.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("failed to load job: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
	if !job.Reconciled {
		t.Error("force-completed job must still be reconciled")
	}
	if network.Calls() != 0 {
		t.Errorf("module re-ran %d times during force-complete, want 0", network.Calls())
	}
}

// TestWatchdogIgnoresHealthyJobs verifies fresh heartbeats are left alone
func TestWatchdogIgnoresHealthyJobs(t *testing.T) {
	registry := modules.NewRegistry()
	registry.Register(10, &fakeModule{code: "NETWORK"})
	w, fx := newWatchdogFixture(t, registry)
	ctx := context.Background()

	jobID, err := fx.orchestrator.Start(ctx, fx.customer.ID, fx.conn.ID, []string{"NETWORK"}, domain.TriggerManual)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := fx.assessments.ClaimJob(ctx, jobID, time.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	job, err := fx.assessments.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("failed to load job: %v", err)
	}
	if job.Status != domain.JobStatusRunning {
		t.Errorf("healthy running job disturbed: status = %s", job.Status)
	}
	if job.Stuck {
		t.Error("healthy job flagged stuck")
	}
}
