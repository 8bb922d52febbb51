package service

import (
	"context"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/repository"
)

// FindingsService is the read surface over the customer findings ledger,
// consumed by the reporting and UI layers.
type FindingsService struct {
	ledger      *repository.LedgerRepository
	assessments *repository.AssessmentRepository
}

// NewFindingsService creates a findings read service.
func NewFindingsService(ledger *repository.LedgerRepository, assessments *repository.AssessmentRepository) *FindingsService {
	return &FindingsService{ledger: ledger, assessments: assessments}
}

// OpenFindings returns a customer's currently open ledger entries, most
// recently seen first.
func (s *FindingsService) OpenFindings(ctx context.Context, customerID string) ([]domain.LedgerEntry, error) {
	return s.ledger.ListOpen(ctx, customerID)
}

// FindingsChanges is the changes-since-last-assessment view.
type FindingsChanges struct {
	JobID       string               `json:"job_id"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	New         []domain.RawFinding  `json:"new"`
	Recurring   []domain.RawFinding  `json:"recurring"`
	Resolved    []domain.LedgerEntry `json:"resolved"`
}

// Changes reports what changed in the customer's most recent completed
// assessment: findings classified new or recurring by that run, and ledger
// entries it resolved.
func (s *FindingsService) Changes(ctx context.Context, customerID string) (*FindingsChanges, error) {
	job, err := s.assessments.LatestCompletedJob(ctx, customerID)
	if err != nil {
		return nil, err
	}

	findings, err := s.assessments.ListFindings(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	changes := &FindingsChanges{
		JobID:       job.ID,
		CompletedAt: job.CompletedAt,
		New:         []domain.RawFinding{},
		Recurring:   []domain.RawFinding{},
		Resolved:    []domain.LedgerEntry{},
	}
	seen := make(map[string]bool)
	for _, f := range findings {
		if seen[f.Fingerprint] {
			continue
		}
		seen[f.Fingerprint] = true
		switch f.ChangeStatus {
		case domain.ChangeStatusNew:
			changes.New = append(changes.New, f)
		case domain.ChangeStatusRecurring:
			changes.Recurring = append(changes.Recurring, f)
		}
	}

	if job.StartedAt != nil && job.CompletedAt != nil {
		resolved, err := s.ledger.ListResolvedBetween(ctx, customerID, *job.StartedAt, *job.CompletedAt)
		if err != nil {
			return nil, err
		}
		changes.Resolved = resolved
	}
	return changes, nil
}
