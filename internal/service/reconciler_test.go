package service

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/repository"
	"gorm.io/gorm"
)

func persistFindings(t *testing.T, db *gorm.DB, jobID string, findings []domain.RawFinding) []domain.RawFinding {
	t.Helper()
	for i := range findings {
		findings[i].JobID = jobID
		findings[i].EnsureFingerprint()
	}
	if err := repository.NewAssessmentRepository(db).CreateFindings(context.Background(), findings); err != nil {
		t.Fatalf("failed to persist findings: %v", err)
	}
	return findings
}

func ledgerEntry(t *testing.T, db *gorm.DB, customerID, fingerprint string) *domain.LedgerEntry {
	t.Helper()
	entry, err := repository.NewLedgerRepository(db).Get(context.Background(), customerID, fingerprint)
	if err != nil {
		t.Fatalf("failed to load ledger entry: %v", err)
	}
	return entry
}

// TestReconcileLifecycle walks one finding through new, recurring, resolved,
// and regression
func TestReconcileLifecycle(t *testing.T) {
	db := newTestDB(t)
	customer, conn := seedCustomer(t, db)
	r := NewReconciler(repository.NewLedgerRepository(db), nil)
	r.now = advanceClock(time.Now())
	ctx := context.Background()

	sshOpen := finding("NETWORK", "exposure", "/nsg/web", "high", "port 22 open to any")

	// Run 1: finding appears for the first time.
	job1 := newJob(t, db, customer.ID, conn.ID, "NETWORK")
	persisted := persistFindings(t, db, job1.ID, []domain.RawFinding{sshOpen})
	fp := persisted[0].Fingerprint

	delta, err := r.Reconcile(ctx, customer.ID, job1.ID, []string{"NETWORK"}, persisted)
	if err != nil {
		t.Fatalf("reconcile run 1 failed: %v", err)
	}
	if delta.New != 1 || delta.Recurring != 0 || delta.Resolved != 0 {
		t.Fatalf("run 1 delta = %+v, want 1 new", delta)
	}
	entry := ledgerEntry(t, db, customer.ID, fp)
	if entry == nil {
		t.Fatal("ledger entry not created")
	}
	if entry.Status != domain.LedgerStatusOpen || entry.OccurrenceCount != 1 {
		t.Errorf("run 1 entry = status %s count %d, want open/1", entry.Status, entry.OccurrenceCount)
	}
	raw, err := repository.NewAssessmentRepository(db).ListFindings(ctx, job1.ID)
	if err != nil {
		t.Fatalf("failed to list findings: %v", err)
	}
	if raw[0].ChangeStatus != domain.ChangeStatusNew {
		t.Errorf("run 1 finding classified %s, want new", raw[0].ChangeStatus)
	}

	// Run 2: same finding recurs.
	job2 := newJob(t, db, customer.ID, conn.ID, "NETWORK")
	persisted = persistFindings(t, db, job2.ID, []domain.RawFinding{sshOpen})
	delta, err = r.Reconcile(ctx, customer.ID, job2.ID, []string{"NETWORK"}, persisted)
	if err != nil {
		t.Fatalf("reconcile run 2 failed: %v", err)
	}
	if delta.Recurring != 1 || delta.New != 0 {
		t.Fatalf("run 2 delta = %+v, want 1 recurring", delta)
	}
	entry = ledgerEntry(t, db, customer.ID, fp)
	if entry.OccurrenceCount != 2 || entry.LastJobID != job2.ID {
		t.Errorf("run 2 entry = count %d lastJob %s, want 2/%s", entry.OccurrenceCount, entry.LastJobID, job2.ID)
	}

	// Run 3: module runs clean, the finding resolves.
	job3 := newJob(t, db, customer.ID, conn.ID, "NETWORK")
	delta, err = r.Reconcile(ctx, customer.ID, job3.ID, []string{"NETWORK"}, nil)
	if err != nil {
		t.Fatalf("reconcile run 3 failed: %v", err)
	}
	if delta.Resolved != 1 {
		t.Fatalf("run 3 delta = %+v, want 1 resolved", delta)
	}
	entry = ledgerEntry(t, db, customer.ID, fp)
	if entry.Status != domain.LedgerStatusResolved || entry.ResolvedAt == nil {
		t.Errorf("run 3 entry = status %s resolvedAt %v, want resolved with timestamp", entry.Status, entry.ResolvedAt)
	}

	// Run 4: the finding reappears; that's a regression, not a fresh entry.
	job4 := newJob(t, db, customer.ID, conn.ID, "NETWORK")
	persisted = persistFindings(t, db, job4.ID, []domain.RawFinding{sshOpen})
	delta, err = r.Reconcile(ctx, customer.ID, job4.ID, []string{"NETWORK"}, persisted)
	if err != nil {
		t.Fatalf("reconcile run 4 failed: %v", err)
	}
	if delta.Recurring != 1 || delta.New != 0 {
		t.Fatalf("run 4 delta = %+v, want 1 recurring", delta)
	}
	entry = ledgerEntry(t, db, customer.ID, fp)
	if entry.Status != domain.LedgerStatusOpen {
		t.Errorf("run 4 entry status = %s, want open", entry.Status)
	}
	if entry.ResolvedAt != nil {
		t.Error("run 4 should clear resolved_at on regression")
	}
	if entry.OccurrenceCount != 3 {
		t.Errorf("run 4 occurrence count = %d, want 3", entry.OccurrenceCount)
	}
}

// TestReconcileIdempotent verifies reconciliation is one-shot per job
func TestReconcileIdempotent(t *testing.T) {
	db := newTestDB(t)
	customer, conn := seedCustomer(t, db)
	r := NewReconciler(repository.NewLedgerRepository(db), nil)
	ctx := context.Background()

	job := newJob(t, db, customer.ID, conn.ID, "NETWORK")
	persisted := persistFindings(t, db, job.ID, []domain.RawFinding{
		finding("NETWORK", "exposure", "/nsg/web", "high", "port 22 open to any"),
	})

	first, err := r.Reconcile(ctx, customer.ID, job.ID, []string{"NETWORK"}, persisted)
	if err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}
	if first.New != 1 {
		t.Fatalf("first delta = %+v, want 1 new", first)
	}

	second, err := r.Reconcile(ctx, customer.ID, job.ID, []string{"NETWORK"}, persisted)
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if second.New != 0 || second.Recurring != 0 || second.Resolved != 0 {
		t.Errorf("second reconcile applied changes: %+v, want empty delta", second)
	}

	entry := ledgerEntry(t, db, customer.ID, persisted[0].Fingerprint)
	if entry.OccurrenceCount != 1 {
		t.Errorf("occurrence count = %d after duplicate reconcile, want 1", entry.OccurrenceCount)
	}
}

// TestReconcileResolutionScoping verifies that only modules that completed in
// a run may resolve their entries
func TestReconcileResolutionScoping(t *testing.T) {
	db := newTestDB(t)
	customer, conn := seedCustomer(t, db)
	r := NewReconciler(repository.NewLedgerRepository(db), nil)
	ctx := context.Background()

	// Run 1 opens one NETWORK and one BACKUP entry.
	job1 := newJob(t, db, customer.ID, conn.ID, "NETWORK", "BACKUP")
	run1 := persistFindings(t, db, job1.ID, []domain.RawFinding{
		finding("NETWORK", "exposure", "/nsg/web", "high", "port 22 open to any"),
		finding("BACKUP", "coverage", "/sub/sub-1", "high", "no recovery vault"),
	})
	if _, err := r.Reconcile(ctx, customer.ID, job1.ID, []string{"NETWORK", "BACKUP"}, run1); err != nil {
		t.Fatalf("reconcile run 1 failed: %v", err)
	}

	// Run 2 executes only NETWORK and reports nothing. BACKUP did not run,
	// so its entry must survive untouched.
	job2 := newJob(t, db, customer.ID, conn.ID, "NETWORK")
	delta, err := r.Reconcile(ctx, customer.ID, job2.ID, []string{"NETWORK"}, nil)
	if err != nil {
		t.Fatalf("reconcile run 2 failed: %v", err)
	}
	if delta.Resolved != 1 {
		t.Fatalf("run 2 delta = %+v, want exactly 1 resolved", delta)
	}

	network := ledgerEntry(t, db, customer.ID, run1[0].Fingerprint)
	if network.Status != domain.LedgerStatusResolved {
		t.Errorf("NETWORK entry status = %s, want resolved", network.Status)
	}
	backup := ledgerEntry(t, db, customer.ID, run1[1].Fingerprint)
	if backup.Status != domain.LedgerStatusOpen {
		t.Errorf("BACKUP entry status = %s, want open (module did not run)", backup.Status)
	}
}

// TestReconcileFailedModulePartialFindings verifies that partial findings
// from a failed module create entries but the failure never resolves anything
func TestReconcileFailedModulePartialFindings(t *testing.T) {
	db := newTestDB(t)
	customer, conn := seedCustomer(t, db)
	r := NewReconciler(repository.NewLedgerRepository(db), nil)
	ctx := context.Background()

	// Run 1 opens a BACKUP entry.
	job1 := newJob(t, db, customer.ID, conn.ID, "BACKUP")
	run1 := persistFindings(t, db, job1.ID, []domain.RawFinding{
		finding("BACKUP", "coverage", "/sub/sub-1", "high", "no recovery vault"),
	})
	if _, err := r.Reconcile(ctx, customer.ID, job1.ID, []string{"BACKUP"}, run1); err != nil {
		t.Fatalf("reconcile run 1 failed: %v", err)
	}

	// Run 2: BACKUP failed mid-run but produced one different partial
	// finding. It is excluded from executedModules, so the old entry stays
	// open while the partial finding still lands in the ledger.
	job2 := newJob(t, db, customer.ID, conn.ID, "BACKUP")
	run2 := persistFindings(t, db, job2.ID, []domain.RawFinding{
		finding("BACKUP", "coverage", "/vm/db01", "medium", "production vm excluded from backup"),
	})
	delta, err := r.Reconcile(ctx, customer.ID, job2.ID, nil, run2)
	if err != nil {
		t.Fatalf("reconcile run 2 failed: %v", err)
	}
	if delta.New != 1 || delta.Resolved != 0 {
		t.Fatalf("run 2 delta = %+v, want 1 new and 0 resolved", delta)
	}

	old := ledgerEntry(t, db, customer.ID, run1[0].Fingerprint)
	if old.Status != domain.LedgerStatusOpen {
		t.Errorf("old entry status = %s, want open (failed module proves nothing)", old.Status)
	}
}

// TestReconcileDedupesWithinRun verifies identical findings in one run
// produce a single ledger entry
func TestReconcileDedupesWithinRun(t *testing.T) {
	db := newTestDB(t)
	customer, conn := seedCustomer(t, db)
	r := NewReconciler(repository.NewLedgerRepository(db), nil)
	ctx := context.Background()

	job := newJob(t, db, customer.ID, conn.ID, "NETWORK")
	run := persistFindings(t, db, job.ID, []domain.RawFinding{
		finding("NETWORK", "exposure", "/nsg/web", "high", "port 22 open to any"),
		finding("NETWORK", "exposure", "/nsg/web", "high", "port 22 open to any"),
	})

	delta, err := r.Reconcile(ctx, customer.ID, job.ID, []string{"NETWORK"}, run)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if delta.New != 1 {
		t.Errorf("delta.New = %d, want 1 (duplicates collapse)", delta.New)
	}

	entry := ledgerEntry(t, db, customer.ID, run[0].Fingerprint)
	if entry.OccurrenceCount != 1 {
		t.Errorf("occurrence count = %d, want 1", entry.OccurrenceCount)
	}
}
