package repository

import (
	"context"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"gorm.io/gorm"
)

// AssessmentRepository handles assessment job, module result, and raw finding
// data operations.
type AssessmentRepository struct {
	db *gorm.DB
}

// NewAssessmentRepository creates a new AssessmentRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *AssessmentRepository: repository instance bound to db.
func NewAssessmentRepository(db *gorm.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// CreateJob persists a new job together with one pending ModuleResult per
// requested module code, in a single transaction.
func (r *AssessmentRepository) CreateJob(ctx context.Context, job *domain.AssessmentJob) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		for _, code := range job.ModuleCodes {
			result := &domain.ModuleResult{
				JobID:      job.ID,
				ModuleCode: code,
				Status:     domain.ModuleStatusPending,
			}
			if err := tx.Create(result).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetJob retrieves a job by its ID.
func (r *AssessmentRepository) GetJob(ctx context.Context, id string) (*domain.AssessmentJob, error) {
	var job domain.AssessmentJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimJob atomically transitions a queued job to running. The conditional
// update guarantees that exactly one worker processes a job at a time even
// with at-least-once queue delivery.
// Returns:
//   - bool: true if this caller won the claim.
//   - error: non-nil on database failure.
func (r *AssessmentRepository) ClaimJob(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.AssessmentJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":           domain.JobStatusRunning,
			"started_at":       gorm.Expr("COALESCE(started_at, ?)", now),
			"last_progress_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TouchProgress advances the job heartbeat and clears the stuck flag.
// Called on every module state transition while the job is running.
func (r *AssessmentRepository) TouchProgress(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.AssessmentJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_progress_at": now,
			"stuck":            false,
		}).Error
}

// FinalizeJob records the terminal status and aggregate counters of a job.
func (r *AssessmentRepository) FinalizeJob(ctx context.Context, job *domain.AssessmentJob) error {
	return r.db.WithContext(ctx).Model(&domain.AssessmentJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":           job.Status,
			"completed_at":     job.CompletedAt,
			"last_progress_at": job.LastProgressAt,
			"findings_total":   job.FindingsTotal,
			"findings_high":    job.FindingsHigh,
			"findings_medium":  job.FindingsMedium,
			"findings_low":     job.FindingsLow,
			"score":            job.Score,
			"stuck":            false,
		}).Error
}

// RequeueJob transitions a running job back to queued so a worker re-drives
// its remaining modules. Terminal module results are left untouched.
func (r *AssessmentRepository) RequeueJob(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.AssessmentJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusRunning).
		Update("status", domain.JobStatusQueued)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetStuck flags or clears the stuck indicator on a job.
func (r *AssessmentRepository) SetStuck(ctx context.Context, id string, stuck bool) error {
	return r.db.WithContext(ctx).Model(&domain.AssessmentJob{}).
		Where("id = ?", id).
		Update("stuck", stuck).Error
}

// RequestCancel marks a job for cancellation. Honored at module boundaries only.
func (r *AssessmentRepository) RequestCancel(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&domain.AssessmentJob{}).
		Where("id = ?", id).
		Update("cancel_requested", true).Error
}

// ListQueuedJobIDs returns the IDs of queued jobs, oldest first.
func (r *AssessmentRepository) ListQueuedJobIDs(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.AssessmentJob{}).
		Where("status = ?", domain.JobStatusQueued).
		Order("created_at asc").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListStaleRunning returns running jobs whose heartbeat is older than the cutoff.
func (r *AssessmentRepository) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]domain.AssessmentJob, error) {
	var jobs []domain.AssessmentJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND last_progress_at < ?", domain.JobStatusRunning, cutoff).
		Find(&jobs).Error
	return jobs, err
}

// ListRecentJobs returns a customer's most recent jobs, newest first.
func (r *AssessmentRepository) ListRecentJobs(ctx context.Context, customerID string, limit int) ([]domain.AssessmentJob, error) {
	var jobs []domain.AssessmentJob
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at desc").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// LatestCompletedJob returns the customer's most recently completed job.
func (r *AssessmentRepository) LatestCompletedJob(ctx context.Context, customerID string) (*domain.AssessmentJob, error) {
	var job domain.AssessmentJob
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, domain.JobStatusCompleted).
		Order("completed_at desc").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListModuleResults returns the module results of a job in creation order.
func (r *AssessmentRepository) ListModuleResults(ctx context.Context, jobID string) ([]domain.ModuleResult, error) {
	var results []domain.ModuleResult
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id asc").
		Find(&results).Error
	return results, err
}

// StartModule transitions a module result to running.
func (r *AssessmentRepository) StartModule(ctx context.Context, jobID, code string) error {
	return r.db.WithContext(ctx).Model(&domain.ModuleResult{}).
		Where("job_id = ? AND module_code = ?", jobID, code).
		Update("status", domain.ModuleStatusRunning).Error
}

// FinishModule records the terminal outcome of one module execution.
func (r *AssessmentRepository) FinishModule(ctx context.Context, jobID, code string, status domain.ModuleStatus, findings int, errMsg string, durationMs int64) error {
	return r.db.WithContext(ctx).Model(&domain.ModuleResult{}).
		Where("job_id = ? AND module_code = ?", jobID, code).
		Updates(map[string]interface{}{
			"status":         status,
			"findings_count": findings,
			"error_message":  errMsg,
			"duration_ms":    durationMs,
		}).Error
}

// CreateFindings appends raw findings produced by a module run.
func (r *AssessmentRepository) CreateFindings(ctx context.Context, findings []domain.RawFinding) error {
	if len(findings) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&findings).Error
}

// DeleteModuleFindings removes one module's raw findings for a job. Called
// before re-executing a non-terminal module so rows persisted by an
// interrupted attempt are not counted twice.
func (r *AssessmentRepository) DeleteModuleFindings(ctx context.Context, jobID, code string) error {
	return r.db.WithContext(ctx).
		Where("job_id = ? AND module_code = ?", jobID, code).
		Delete(&domain.RawFinding{}).Error
}

// ListFindings returns all raw findings recorded for a job.
func (r *AssessmentRepository) ListFindings(ctx context.Context, jobID string) ([]domain.RawFinding, error) {
	var findings []domain.RawFinding
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id asc").
		Find(&findings).Error
	return findings, err
}
