package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/logger"
	"github.com/nimbusops/nimbus/internal/repository"
)

// Reconciler merges a completed run's raw findings into the customer's
// durable findings ledger. It is the ledger's only writer.
//
// Each reconciliation is one database transaction guarded by a per-customer
// lock, so two concurrently completing jobs for the same customer can never
// race on the same fingerprint, and a failure applies nothing.
type Reconciler struct {
	ledger *repository.LedgerRepository
	log    *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewReconciler creates a reconciler over the ledger repository.
func NewReconciler(ledger *repository.LedgerRepository, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Reconciler{
		ledger: ledger,
		log:    log.WithField(logger.FieldComponent, "reconciler"),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// Reconcile applies one job's findings to the customer ledger and returns the
// delta. Reconciliation is one-shot per job: a second call for the same job
// is a no-op returning an empty delta.
//
// executedModules must contain only the codes of modules that completed
// successfully in this run. Findings may additionally include partial output
// from failed modules; those create or refresh entries but never resolve any,
// since a failed module's silence about a resource proves nothing.
func (r *Reconciler) Reconcile(ctx context.Context, customerID, jobID string, executedModules []string, findings []domain.RawFinding) (*domain.LedgerDelta, error) {
	lock := r.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	delta := &domain.LedgerDelta{}
	err := r.ledger.Transaction(ctx, func(tx *repository.LedgerRepository) error {
		first, err := tx.MarkJobReconciled(ctx, jobID)
		if err != nil {
			return err
		}
		if !first {
			r.log.WithFields(logger.Fields{logger.FieldJobID: jobID}).
				Info("job already reconciled, skipping")
			return nil
		}

		now := r.now()

		// Deduplicate identical findings produced within the same run.
		byFingerprint := make(map[string]domain.RawFinding)
		for _, f := range findings {
			f.EnsureFingerprint()
			if _, seen := byFingerprint[f.Fingerprint]; !seen {
				byFingerprint[f.Fingerprint] = f
			}
		}
		fingerprints := make([]string, 0, len(byFingerprint))
		for fp := range byFingerprint {
			fingerprints = append(fingerprints, fp)
		}
		sort.Strings(fingerprints)

		for _, fp := range fingerprints {
			finding := byFingerprint[fp]
			entry, err := tx.Get(ctx, customerID, fp)
			if err != nil {
				return err
			}

			var status domain.ChangeStatus
			switch {
			case entry == nil:
				status = domain.ChangeStatusNew
				entry = &domain.LedgerEntry{
					CustomerID:      customerID,
					Fingerprint:     fp,
					ModuleCode:      finding.ModuleCode,
					Category:        finding.Category,
					ResourceID:      finding.ResourceID,
					Severity:        finding.Severity,
					Description:     finding.Description,
					Status:          domain.LedgerStatusOpen,
					OccurrenceCount: 1,
					FirstSeenAt:     now,
					LastSeenAt:      now,
					LastJobID:       jobID,
				}
				if err := tx.Create(ctx, entry); err != nil {
					return err
				}
				delta.New++

			case entry.Status == domain.LedgerStatusOpen:
				status = domain.ChangeStatusRecurring
				entry.OccurrenceCount++
				entry.LastSeenAt = now
				entry.LastJobID = jobID
				if err := tx.Save(ctx, entry); err != nil {
					return err
				}
				delta.Recurring++

			default:
				// Reappearing after resolution is a regression, not a fresh
				// finding.
				status = domain.ChangeStatusRecurring
				entry.Status = domain.LedgerStatusOpen
				entry.ResolvedAt = nil
				entry.OccurrenceCount++
				entry.LastSeenAt = now
				entry.LastJobID = jobID
				if err := tx.Save(ctx, entry); err != nil {
					return err
				}
				delta.Recurring++
			}

			if err := tx.MarkFindingChangeStatus(ctx, jobID, fp, status); err != nil {
				return err
			}
		}

		// Resolve open entries that this run's executed modules no longer
		// report. Entries of modules that did not run stay untouched.
		if len(executedModules) > 0 {
			open, err := tx.ListOpenForModules(ctx, customerID, executedModules)
			if err != nil {
				return err
			}
			for i := range open {
				entry := &open[i]
				if _, present := byFingerprint[entry.Fingerprint]; present {
					continue
				}
				resolvedAt := now
				entry.Status = domain.LedgerStatusResolved
				entry.ResolvedAt = &resolvedAt
				if err := tx.Save(ctx, entry); err != nil {
					return err
				}
				delta.Resolved++
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return delta, nil
}

func (r *Reconciler) customerLock(customerID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[customerID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[customerID] = lock
	}
	return lock
}
