package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/logger"
	"github.com/nimbusops/nimbus/internal/modules"
	"github.com/nimbusops/nimbus/internal/repository"
	"golang.org/x/sync/semaphore"
)

// ErrInvalidInput is returned by Start for requests that fail validation.
// No job is created in that case.
var ErrInvalidInput = errors.New("invalid assessment request")

// ErrNotStuck is returned by ForceRestart when the job's stuck flag is not set.
var ErrNotStuck = errors.New("job is not flagged as stuck")

// OrchestratorConfig controls job and module execution.
type OrchestratorConfig struct {
	ModuleWorkers  int
	StaleThreshold time.Duration
}

// Orchestrator owns the assessment job state machine. Start persists a queued
// job and returns immediately; workers pick jobs up via Run.
type Orchestrator struct {
	assessments *repository.AssessmentRepository
	customers   *repository.CustomerRepository
	reconciler  *Reconciler
	executor    *Executor
	targets     TargetBuilder
	exporter    *Exporter
	registry    *modules.Registry
	queue       *JobQueue
	log         *logger.Logger

	moduleWorkers  int64
	staleThreshold time.Duration
	now            func() time.Time
}

// NewOrchestrator wires the orchestrator. exporter may be nil when artifact
// export is disabled.
func NewOrchestrator(
	assessments *repository.AssessmentRepository,
	customers *repository.CustomerRepository,
	reconciler *Reconciler,
	executor *Executor,
	targets TargetBuilder,
	exporter *Exporter,
	registry *modules.Registry,
	queue *JobQueue,
	log *logger.Logger,
	cfg *OrchestratorConfig,
) *Orchestrator {
	if log == nil {
		log = logger.GetDefault()
	}
	workers := 3
	staleThreshold := 10 * time.Minute
	if cfg != nil {
		if cfg.ModuleWorkers > 0 {
			workers = cfg.ModuleWorkers
		}
		if cfg.StaleThreshold > 0 {
			staleThreshold = cfg.StaleThreshold
		}
	}
	return &Orchestrator{
		assessments:    assessments,
		customers:      customers,
		reconciler:     reconciler,
		executor:       executor,
		targets:        targets,
		exporter:       exporter,
		registry:       registry,
		queue:          queue,
		log:            log.WithField(logger.FieldComponent, "orchestrator"),
		moduleWorkers:  int64(workers),
		staleThreshold: staleThreshold,
		now:            time.Now,
	}
}

// Start validates the request, persists a queued job with pending module
// results, signals the queue, and returns the job ID. It never blocks on
// module execution.
func (o *Orchestrator) Start(ctx context.Context, customerID, connectionID string, moduleCodes []string, trigger domain.TriggerType) (string, error) {
	if len(moduleCodes) == 0 {
		return "", fmt.Errorf("%w: module list is empty", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(moduleCodes))
	for _, code := range moduleCodes {
		if !o.registry.Known(code) {
			return "", fmt.Errorf("%w: unknown module code %q", ErrInvalidInput, code)
		}
		if seen[code] {
			return "", fmt.Errorf("%w: duplicate module code %q", ErrInvalidInput, code)
		}
		seen[code] = true
	}

	conn, err := o.customers.GetConnection(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("%w: connection %s not found", ErrInvalidInput, connectionID)
	}
	if conn.CustomerID != customerID {
		return "", fmt.Errorf("%w: connection %s does not belong to customer %s", ErrInvalidInput, connectionID, customerID)
	}
	if !conn.IsEnabled {
		return "", fmt.Errorf("%w: connection %s is disabled", ErrInvalidInput, connectionID)
	}
	if trigger == "" {
		trigger = domain.TriggerManual
	}

	job := &domain.AssessmentJob{
		ID:           uuid.New().String(),
		CustomerID:   customerID,
		ConnectionID: connectionID,
		Status:       domain.JobStatusQueued,
		ModuleCodes:  domain.StringArray(moduleCodes),
		TriggerType:  trigger,
	}
	if err := o.assessments.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	o.queue.Enqueue(job.ID)
	o.log.WithFields(logger.Fields{
		logger.FieldJobID:      job.ID,
		logger.FieldCustomerID: customerID,
	}).Infof("assessment queued with %d modules", len(moduleCodes))
	return job.ID, nil
}

// Run processes one job end to end. Invoked by workers on dequeue; safe under
// at-least-once delivery because the claim is a conditional update. A module
// failure is recorded on its result and never aborts the remaining modules.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	claimed, err := o.assessments.ClaimJob(ctx, jobID, o.now())
	if err != nil {
		return err
	}
	if !claimed {
		// Already terminal, already claimed by another worker, or not queued.
		return nil
	}

	job, err := o.assessments.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:      job.ID,
		logger.FieldCustomerID: job.CustomerID,
	})
	logger.CtxInfo(ctx, "assessment run started")

	target, buildErr := o.buildTarget(ctx, job)
	if buildErr != nil {
		// Without a target no module can run. Fail every non-terminal module
		// and let finalize produce the terminal job status.
		logger.CtxError(ctx, "failed to build assessment target: %v", buildErr)
		results, err := o.assessments.ListModuleResults(ctx, job.ID)
		if err != nil {
			return err
		}
		for _, result := range results {
			if result.Status.Terminal() {
				continue
			}
			if err := o.assessments.FinishModule(ctx, job.ID, result.ModuleCode, domain.ModuleStatusFailed, 0, buildErr.Error(), 0); err != nil {
				return err
			}
			if err := o.assessments.TouchProgress(ctx, job.ID, o.now()); err != nil {
				return err
			}
		}
		return o.finalize(ctx, job)
	}

	if err := o.runModules(ctx, job, target); err != nil {
		return err
	}
	return o.finalize(ctx, job)
}

// runModules executes the job's non-terminal modules with bounded
// concurrency. Dispatch follows the requested order; completion order is
// free. The heartbeat advances after every transition regardless of outcome.
func (o *Orchestrator) runModules(ctx context.Context, job *domain.AssessmentJob, target *modules.Target) error {
	results, err := o.assessments.ListModuleResults(ctx, job.ID)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(o.moduleWorkers)
	var wg sync.WaitGroup

	for _, result := range results {
		// Re-driven jobs keep the outcomes of modules that already finished.
		if result.Status.Terminal() {
			continue
		}

		// Cancellation is honored between module dispatches only.
		current, err := o.assessments.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if current.CancelRequested {
			if err := o.assessments.FinishModule(ctx, job.ID, result.ModuleCode, domain.ModuleStatusSkipped, 0, "cancelled", 0); err != nil {
				return err
			}
			if err := o.assessments.TouchProgress(ctx, job.ID, o.now()); err != nil {
				return err
			}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			defer sem.Release(1)
			o.runOneModule(ctx, job, target, code)
		}(result.ModuleCode)
	}

	wg.Wait()
	return nil
}

// runOneModule drives a single pending→running→terminal transition. Errors
// are captured on the module result; they never propagate to the caller.
func (o *Orchestrator) runOneModule(ctx context.Context, job *domain.AssessmentJob, target *modules.Target, code string) {
	mctx := logger.SetModule(ctx, code)
	started := o.now()

	if err := o.assessments.StartModule(mctx, job.ID, code); err != nil {
		logger.CtxError(mctx, "failed to mark module running: %v", err)
		return
	}
	if err := o.assessments.TouchProgress(mctx, job.ID, o.now()); err != nil {
		logger.CtxError(mctx, "failed to touch progress: %v", err)
	}

	// A crash between persisting findings and recording the module outcome
	// leaves rows from the interrupted attempt behind; this run replaces them.
	if err := o.assessments.DeleteModuleFindings(mctx, job.ID, code); err != nil {
		logger.CtxError(mctx, "failed to clear stale findings: %v", err)
	}

	findings, execErr := o.executor.Execute(mctx, target, code)
	durationMs := o.now().Sub(started).Milliseconds()

	// Partial credit: findings produced before a failure are persisted.
	for i := range findings {
		findings[i].JobID = job.ID
		findings[i].ModuleCode = code
		findings[i].EnsureFingerprint()
	}
	if err := o.assessments.CreateFindings(mctx, findings); err != nil {
		logger.CtxError(mctx, "failed to persist findings: %v", err)
		execErr = errors.Join(execErr, err)
	}

	status := domain.ModuleStatusCompleted
	errMsg := ""
	if execErr != nil {
		status = domain.ModuleStatusFailed
		errMsg = execErr.Error()
		logger.CtxError(mctx, "module failed after %dms: %v", durationMs, execErr)
	} else {
		logger.With(logger.Fields{
			logger.FieldDurationMs: durationMs,
			logger.FieldCount:      len(findings),
		}).Info(mctx, "module completed")
	}

	if err := o.assessments.FinishModule(mctx, job.ID, code, status, len(findings), errMsg, durationMs); err != nil {
		logger.CtxError(mctx, "failed to record module result: %v", err)
	}
	if err := o.assessments.TouchProgress(mctx, job.ID, o.now()); err != nil {
		logger.CtxError(mctx, "failed to touch progress: %v", err)
	}
}

// finalize aggregates module outcomes, reconciles the ledger, and records the
// terminal job status. Reconciliation runs to completion before the job is
// marked completed, so observers of a completed job always see a fully
// reconciled ledger. Also used by the watchdog to force-complete jobs whose
// modules all finished but whose completion was lost.
func (o *Orchestrator) finalize(ctx context.Context, job *domain.AssessmentJob) error {
	results, err := o.assessments.ListModuleResults(ctx, job.ID)
	if err != nil {
		return err
	}
	findings, err := o.assessments.ListFindings(ctx, job.ID)
	if err != nil {
		return err
	}

	completedCodes := make([]string, 0, len(results))
	anyCompleted := false
	for _, result := range results {
		if result.Status == domain.ModuleStatusCompleted {
			completedCodes = append(completedCodes, result.ModuleCode)
			anyCompleted = true
		}
	}

	high, medium, low := 0, 0, 0
	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityHigh:
			high++
		case domain.SeverityMedium:
			medium++
		default:
			low++
		}
	}

	job.FindingsTotal = len(findings)
	job.FindingsHigh = high
	job.FindingsMedium = medium
	job.FindingsLow = low
	job.Score = domain.HealthScore(high, medium, low)

	delta, err := o.reconciler.Reconcile(ctx, job.CustomerID, job.ID, completedCodes, findings)
	if err != nil {
		// The counters still reflect what the modules collected.
		logger.CtxError(ctx, "reconciliation failed: %v", err)
		now := o.now()
		job.Status = domain.JobStatusFailed
		job.CompletedAt = &now
		job.LastProgressAt = &now
		return o.assessments.FinalizeJob(ctx, job)
	}

	now := o.now()
	job.CompletedAt = &now
	job.LastProgressAt = &now
	if anyCompleted {
		// Partial results beat none: failed modules degrade the assessment
		// but do not void it.
		job.Status = domain.JobStatusCompleted
	} else {
		job.Status = domain.JobStatusFailed
	}

	if err := o.assessments.FinalizeJob(ctx, job); err != nil {
		return err
	}

	if job.Status == domain.JobStatusCompleted {
		if err := o.customers.UpdateLastAssessed(ctx, job.CustomerID, now); err != nil {
			logger.CtxError(ctx, "failed to update customer last-assessed: %v", err)
		}
	}

	logger.With(logger.Fields{
		logger.FieldStatus: string(job.Status),
		logger.FieldCount:  job.FindingsTotal,
	}).Info(ctx, "assessment finished: %d new, %d recurring, %d resolved, score %d",
		delta.New, delta.Recurring, delta.Resolved, job.Score)

	if o.exporter != nil {
		// The reconciler stamps change statuses on the stored rows only, so
		// the findings must be reloaded for the artifact to carry them.
		exportFindings, err := o.assessments.ListFindings(ctx, job.ID)
		if err != nil {
			logger.CtxWarn(ctx, "failed to reload findings for export: %v", err)
			exportFindings = findings
		}
		if err := o.exporter.ExportAssessment(ctx, job, results, exportFindings); err != nil {
			// Export is best effort and never fails the job.
			logger.CtxWarn(ctx, "assessment export failed: %v", err)
		}
	}
	return nil
}

// ForceComplete reconciles and finalizes a job whose modules all reached a
// terminal state while the job itself stayed running.
func (o *Orchestrator) ForceComplete(ctx context.Context, jobID string) error {
	job, err := o.assessments.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:      job.ID,
		logger.FieldCustomerID: job.CustomerID,
	})
	return o.finalize(ctx, job)
}

// ForceRestart re-drives a stuck job's remaining modules. Valid only while
// the watchdog's stuck flag is set.
func (o *Orchestrator) ForceRestart(ctx context.Context, jobID string) error {
	job, err := o.assessments.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Stuck {
		return ErrNotStuck
	}
	if _, err := o.assessments.RequeueJob(ctx, jobID); err != nil {
		return err
	}
	o.queue.Enqueue(jobID)
	return nil
}

// RequestCancel marks a job for cancellation at the next module boundary.
func (o *Orchestrator) RequestCancel(ctx context.Context, jobID string) error {
	return o.assessments.RequestCancel(ctx, jobID)
}

// ModuleStatusView is one module's state in a status response.
type ModuleStatusView struct {
	ModuleCode    string              `json:"module_code"`
	Status        domain.ModuleStatus `json:"status"`
	FindingsCount int                 `json:"findings_count"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	DurationMs    int64               `json:"duration_ms"`
}

// JobStatusView is the polling payload for one job.
type JobStatusView struct {
	JobID           string             `json:"job_id"`
	Status          domain.JobStatus   `json:"status"`
	TriggerType     domain.TriggerType `json:"trigger_type"`
	ProgressPercent int                `json:"progress_percent"`
	Stuck           bool               `json:"stuck"`
	Stalled         bool               `json:"stalled"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	LastProgressAt  *time.Time         `json:"last_progress_at,omitempty"`
	FindingsTotal   int                `json:"findings_total"`
	Score           int                `json:"score"`
	Modules         []ModuleStatusView `json:"modules"`
}

// GetStatus returns the polling view of a job. Stalled is derived from
// heartbeat staleness so callers can tell "actively progressing" apart from
// "stalled" while the status is still running.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*JobStatusView, error) {
	job, err := o.assessments.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	results, err := o.assessments.ListModuleResults(ctx, jobID)
	if err != nil {
		return nil, err
	}

	terminal := 0
	views := make([]ModuleStatusView, 0, len(results))
	for _, result := range results {
		if result.Status.Terminal() {
			terminal++
		}
		views = append(views, ModuleStatusView{
			ModuleCode:    result.ModuleCode,
			Status:        result.Status,
			FindingsCount: result.FindingsCount,
			ErrorMessage:  result.ErrorMessage,
			DurationMs:    result.DurationMs,
		})
	}
	progress := 0
	if len(results) > 0 {
		progress = terminal * 100 / len(results)
	}

	stalled := false
	if job.Status == domain.JobStatusRunning && job.LastProgressAt != nil {
		stalled = o.now().Sub(*job.LastProgressAt) > o.staleThreshold
	}

	return &JobStatusView{
		JobID:           job.ID,
		Status:          job.Status,
		TriggerType:     job.TriggerType,
		ProgressPercent: progress,
		Stuck:           job.Stuck,
		Stalled:         stalled,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		LastProgressAt:  job.LastProgressAt,
		FindingsTotal:   job.FindingsTotal,
		Score:           job.Score,
		Modules:         views,
	}, nil
}

// StartWorkers launches n worker goroutines consuming the queue. Each worker
// also polls the durable queue so a dropped wake-up signal only delays a job.
func (o *Orchestrator) StartWorkers(ctx context.Context, n int, pollEvery time.Duration) {
	if n <= 0 {
		n = 1
	}
	if pollEvery <= 0 {
		pollEvery = 15 * time.Second
	}
	for i := 0; i < n; i++ {
		go o.workerLoop(ctx, pollEvery)
	}
}

func (o *Orchestrator) workerLoop(ctx context.Context, pollEvery time.Duration) {
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-o.queue.C():
			if err := o.Run(ctx, jobID); err != nil && ctx.Err() == nil {
				o.log.WithError(err).WithField(logger.FieldJobID, jobID).Error("job run failed")
			}
		case <-ticker.C:
			ids, err := o.assessments.ListQueuedJobIDs(ctx, 10)
			if err != nil {
				if ctx.Err() == nil {
					o.log.WithError(err).Error("failed to poll queued jobs")
				}
				continue
			}
			for _, id := range ids {
				if err := o.Run(ctx, id); err != nil && ctx.Err() == nil {
					o.log.WithError(err).WithField(logger.FieldJobID, id).Error("job run failed")
				}
			}
		}
	}
}

func (o *Orchestrator) buildTarget(ctx context.Context, job *domain.AssessmentJob) (*modules.Target, error) {
	customer, err := o.customers.GetCustomer(ctx, job.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	conn, err := o.customers.GetConnection(ctx, job.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return o.targets.Build(ctx, customer, conn)
}
