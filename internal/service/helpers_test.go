package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/modules"
	"github.com/nimbusops/nimbus/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens an in-memory SQLite database with the full schema.
// A single connection keeps the in-memory database alive and serialized.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := repository.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// seedCustomer inserts a customer with one enabled connection and returns both.
func seedCustomer(t *testing.T, db *gorm.DB) (*domain.Customer, *domain.CloudConnection) {
	t.Helper()

	customers := repository.NewCustomerRepository(db)
	customer := &domain.Customer{
		ID:                     uuid.New().String(),
		Name:                   "Contoso",
		Tier:                   domain.TierStandard,
		AssessmentIntervalDays: 30,
	}
	if err := customers.CreateCustomer(context.Background(), customer); err != nil {
		t.Fatalf("failed to seed customer: %v", err)
	}

	conn := &domain.CloudConnection{
		ID:              uuid.New().String(),
		CustomerID:      customer.ID,
		Name:            "prod",
		TenantID:        "tenant-1",
		SubscriptionID:  "sub-1",
		ClientID:        "client-1",
		ClientSecretRef: "contoso-sp",
		IsEnabled:       true,
	}
	if err := customers.CreateConnection(context.Background(), conn); err != nil {
		t.Fatalf("failed to seed connection: %v", err)
	}
	return customer, conn
}

// fakeModule is a scriptable audit module for executor and orchestrator tests.
type fakeModule struct {
	code     string
	findings []domain.RawFinding
	err      error
	panicMsg string
	block    bool
	calls    int32
}

func (m *fakeModule) Code() string { return m.code }

func (m *fakeModule) Calls() int32 { return atomic.LoadInt32(&m.calls) }

func (m *fakeModule) Collect(ctx context.Context, _ *modules.Target) ([]domain.RawFinding, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	// Return copies: real modules build fresh findings each collection, and the
	// orchestrator and gorm mutate the returned structs (job binding, generated
	// IDs), which must not leak into the fixture's slice across runs.
	out := make([]domain.RawFinding, len(m.findings))
	copy(out, m.findings)
	return out, m.err
}

// fakeTargetBuilder avoids real credential resolution in orchestrator tests.
type fakeTargetBuilder struct {
	err error
}

func (b *fakeTargetBuilder) Build(_ context.Context, customer *domain.Customer, conn *domain.CloudConnection) (*modules.Target, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &modules.Target{Customer: customer, Connection: conn}, nil
}

func finding(module, category, resource, severity, description string) domain.RawFinding {
	return domain.RawFinding{
		ModuleCode:  module,
		Category:    category,
		ResourceID:  resource,
		Severity:    domain.Severity(severity),
		Description: description,
	}
}

// newJob persists a queued job with pending module results.
func newJob(t *testing.T, db *gorm.DB, customerID, connectionID string, codes ...string) *domain.AssessmentJob {
	t.Helper()

	job := &domain.AssessmentJob{
		ID:           uuid.New().String(),
		CustomerID:   customerID,
		ConnectionID: connectionID,
		Status:       domain.JobStatusQueued,
		ModuleCodes:  domain.StringArray(codes),
		TriggerType:  domain.TriggerManual,
	}
	if err := repository.NewAssessmentRepository(db).CreateJob(context.Background(), job); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	return job
}

// advanceClock returns a now() stub that moves forward one second per call.
func advanceClock(base time.Time) func() time.Time {
	var mu sync.Mutex
	current := base
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}
