package service

import (
	"context"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/logger"
	"github.com/nimbusops/nimbus/internal/repository"
)

// Watchdog is the safety net against lost queue messages and crashed
// workers. It sweeps running jobs whose heartbeat has gone stale and either
// re-drives their remaining modules or, when every module already finished,
// force-completes the job so reconciliation is never silently skipped.
type Watchdog struct {
	assessments  *repository.AssessmentRepository
	orchestrator *Orchestrator
	queue        *JobQueue
	log          *logger.Logger

	interval       time.Duration
	staleThreshold time.Duration
	now            func() time.Time
}

// NewWatchdog creates a watchdog.
func NewWatchdog(
	assessments *repository.AssessmentRepository,
	orchestrator *Orchestrator,
	queue *JobQueue,
	log *logger.Logger,
	interval, staleThreshold time.Duration,
) *Watchdog {
	if log == nil {
		log = logger.GetDefault()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleThreshold <= 0 {
		staleThreshold = 10 * time.Minute
	}
	return &Watchdog{
		assessments:    assessments,
		orchestrator:   orchestrator,
		queue:          queue,
		log:            log.WithField(logger.FieldComponent, "watchdog"),
		interval:       interval,
		staleThreshold: staleThreshold,
		now:            time.Now,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.WithError(err).Error("watchdog sweep failed")
			}
		}
	}
}

// Sweep inspects running jobs with a stale heartbeat. Per-item errors are
// captured and logged so one bad job never blocks progress on the rest.
func (w *Watchdog) Sweep(ctx context.Context) error {
	cutoff := w.now().Add(-w.staleThreshold)
	jobs, err := w.assessments.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return err
	}

	for i := range jobs {
		job := &jobs[i]
		if err := w.recover(ctx, job); err != nil {
			w.log.WithError(err).WithField(logger.FieldJobID, job.ID).Error("failed to recover stale job")
		}
	}
	return nil
}

func (w *Watchdog) recover(ctx context.Context, job *domain.AssessmentJob) error {
	results, err := w.assessments.ListModuleResults(ctx, job.ID)
	if err != nil {
		return err
	}

	allTerminal := true
	for _, result := range results {
		if !result.Status.Terminal() {
			allTerminal = false
			break
		}
	}

	if allTerminal {
		// Every module finished but completion was lost; reconcile and
		// finalize directly.
		w.log.WithField(logger.FieldJobID, job.ID).Warn("all modules finished but job still running, force-completing")
		return w.orchestrator.ForceComplete(ctx, job.ID)
	}

	// Re-drive only the remaining modules; terminal results are kept.
	w.log.WithField(logger.FieldJobID, job.ID).Warnf("job heartbeat stale since %v, re-queuing remaining modules", job.LastProgressAt)
	if err := w.assessments.SetStuck(ctx, job.ID, true); err != nil {
		return err
	}
	requeued, err := w.assessments.RequeueJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if requeued {
		w.queue.Enqueue(job.ID)
	}
	return nil
}
