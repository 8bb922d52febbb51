package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"gorm.io/gorm"
)

// LedgerRepository handles the durable customer findings ledger. The
// reconciler is the only component that writes through it.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Transaction runs fn against a repository bound to a database transaction.
// The reconciler uses this to apply a full ledger delta atomically.
func (r *LedgerRepository) Transaction(ctx context.Context, fn func(tx *LedgerRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&LedgerRepository{db: tx})
	})
}

// Get retrieves the ledger entry for a (customer, fingerprint) pair.
// Returns nil without error when no entry exists.
func (r *LedgerRepository) Get(ctx context.Context, customerID, fingerprint string) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := r.db.WithContext(ctx).
		First(&entry, "customer_id = ? AND fingerprint = ?", customerID, fingerprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Create inserts a new ledger entry.
func (r *LedgerRepository) Create(ctx context.Context, entry *domain.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// Save persists changes to an existing ledger entry.
func (r *LedgerRepository) Save(ctx context.Context, entry *domain.LedgerEntry) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

// ListOpen returns all open entries for a customer.
func (r *LedgerRepository) ListOpen(ctx context.Context, customerID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, domain.LedgerStatusOpen).
		Order("last_seen_at desc").
		Find(&entries).Error
	return entries, err
}

// ListOpenForModules returns a customer's open entries whose module code is in
// the given set. Used by resolution scoping: only modules that actually ran
// may resolve their entries.
func (r *LedgerRepository) ListOpenForModules(ctx context.Context, customerID string, moduleCodes []string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ? AND module_code IN ?",
			customerID, domain.LedgerStatusOpen, moduleCodes).
		Find(&entries).Error
	return entries, err
}

// ListResolvedBetween returns entries resolved inside a time window.
// Feeds the changes-since-last-assessment view.
func (r *LedgerRepository) ListResolvedBetween(ctx context.Context, customerID string, from, to time.Time) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ? AND resolved_at >= ? AND resolved_at <= ?",
			customerID, domain.LedgerStatusResolved, from, to).
		Order("resolved_at desc").
		Find(&entries).Error
	return entries, err
}

// MarkFindingChangeStatus stamps the reconciler's classification onto the raw
// findings of a job that share a fingerprint.
func (r *LedgerRepository) MarkFindingChangeStatus(ctx context.Context, jobID, fingerprint string, status domain.ChangeStatus) error {
	return r.db.WithContext(ctx).Model(&domain.RawFinding{}).
		Where("job_id = ? AND fingerprint = ?", jobID, fingerprint).
		Update("change_status", status).Error
}

// MarkJobReconciled flips the one-shot reconciliation flag. The conditional
// update makes reconciliation idempotent per job.
func (r *LedgerRepository) MarkJobReconciled(ctx context.Context, jobID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.AssessmentJob{}).
		Where("id = ? AND reconciled = ?", jobID, false).
		Update("reconciled", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
