package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of an assessment job.
// Values include JobStatusQueued, JobStatusRunning, JobStatusCompleted, and JobStatusFailed.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// TriggerType describes how an assessment was started.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// AssessmentJob represents one batch execution of audit modules against a
// customer's cloud tenant, together with its progress metadata and aggregate
// finding counters.
//
// LastProgressAt is the job heartbeat: it advances on every module state
// transition while the job is running. The watchdog detects stuck jobs by the
// staleness of this field, never by wall-clock time since start.
type AssessmentJob struct {
	ID              string      `gorm:"type:text;primaryKey" json:"id"`
	CustomerID      string      `gorm:"type:text;not null;index" json:"customer_id"`
	ConnectionID    string      `gorm:"type:text;not null;index" json:"connection_id"`
	Status          JobStatus   `gorm:"type:text;index;default:queued" json:"status"`
	ModuleCodes     StringArray `gorm:"type:text" json:"module_codes"`
	TriggerType     TriggerType `gorm:"type:text;default:manual" json:"trigger_type"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	LastProgressAt  *time.Time  `gorm:"index" json:"last_progress_at,omitempty"`
	FindingsTotal   int         `gorm:"default:0" json:"findings_total"`
	FindingsHigh    int         `gorm:"default:0" json:"findings_high"`
	FindingsMedium  int         `gorm:"default:0" json:"findings_medium"`
	FindingsLow     int         `gorm:"default:0" json:"findings_low"`
	Score           int         `gorm:"default:0" json:"score"`
	Reconciled      bool        `gorm:"default:false" json:"reconciled"`
	Stuck           bool        `gorm:"default:false" json:"stuck"`
	CancelRequested bool        `gorm:"default:false" json:"cancel_requested"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName returns the database table name for AssessmentJob.
func (AssessmentJob) TableName() string {
	return "assessment_jobs"
}

// ModuleStatus represents the execution state of one module within a job.
type ModuleStatus string

const (
	ModuleStatusPending   ModuleStatus = "pending"
	ModuleStatusRunning   ModuleStatus = "running"
	ModuleStatusCompleted ModuleStatus = "completed"
	ModuleStatusFailed    ModuleStatus = "failed"
	ModuleStatusSkipped   ModuleStatus = "skipped"
)

// Terminal reports whether the module status is a terminal state.
func (s ModuleStatus) Terminal() bool {
	return s == ModuleStatusCompleted || s == ModuleStatusFailed || s == ModuleStatusSkipped
}

// ModuleResult records the outcome of one audit module within a job.
// A module's failure never changes the status of sibling modules.
type ModuleResult struct {
	ID            uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID         string       `gorm:"type:text;not null;index:idx_module_results_job,unique" json:"job_id"`
	ModuleCode    string       `gorm:"type:text;not null;index:idx_module_results_job,unique" json:"module_code"`
	Status        ModuleStatus `gorm:"type:text;default:pending" json:"status"`
	FindingsCount int          `gorm:"default:0" json:"findings_count"`
	ErrorMessage  string       `gorm:"type:text" json:"error_message,omitempty"`
	DurationMs    int64        `gorm:"default:0" json:"duration_ms"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// TableName returns the database table name for ModuleResult.
func (ModuleResult) TableName() string {
	return "module_results"
}

// HealthScore computes an assessment score from severity counters.
// Placeholder weighting until product settles the real formula.
func HealthScore(high, medium, low int) int {
	score := 100 - high*10 - medium*5 - low*2
	if score < 0 {
		score = 0
	}
	return score
}
