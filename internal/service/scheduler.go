package service

import (
	"context"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/logger"
	"github.com/nimbusops/nimbus/internal/repository"
)

// Scheduler enqueues scheduled assessments for customers whose assessment
// interval has elapsed.
type Scheduler struct {
	customers    *repository.CustomerRepository
	orchestrator *Orchestrator
	moduleCodes  []string
	interval     time.Duration
	log          *logger.Logger
	now          func() time.Time
}

// NewScheduler creates a scheduler using the default module set for every
// due customer.
func NewScheduler(customers *repository.CustomerRepository, orchestrator *Orchestrator, moduleCodes []string, interval time.Duration, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetDefault()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		customers:    customers,
		orchestrator: orchestrator,
		moduleCodes:  moduleCodes,
		interval:     interval,
		log:          log.WithField(logger.FieldComponent, "scheduler"),
		now:          time.Now,
	}
}

// Start runs the scheduling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep starts an assessment for every due customer. Per-customer errors are
// logged and never block the rest of the sweep.
func (s *Scheduler) Sweep(ctx context.Context) {
	due, err := s.customers.ListDueForAssessment(ctx, s.now())
	if err != nil {
		s.log.WithError(err).Error("failed to list customers due for assessment")
		return
	}

	for _, customer := range due {
		conn, err := s.customers.DefaultConnection(ctx, customer.ID)
		if err != nil {
			s.log.WithError(err).WithField(logger.FieldCustomerID, customer.ID).
				Warn("customer due for assessment has no enabled connection")
			continue
		}
		jobID, err := s.orchestrator.Start(ctx, customer.ID, conn.ID, s.moduleCodes, domain.TriggerScheduled)
		if err != nil {
			s.log.WithError(err).WithField(logger.FieldCustomerID, customer.ID).
				Error("failed to start scheduled assessment")
			continue
		}
		s.log.WithFields(logger.Fields{
			logger.FieldCustomerID: customer.ID,
			logger.FieldJobID:      jobID,
		}).Info("scheduled assessment queued")
	}
}
