package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Severity classifies the impact of a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ChangeStatus classifies a raw finding relative to the customer's ledger.
// Assigned by the reconciler, never by the module that produced the finding.
type ChangeStatus string

const (
	ChangeStatusNew       ChangeStatus = "new"
	ChangeStatusRecurring ChangeStatus = "recurring"
	ChangeStatusResolved  ChangeStatus = "resolved"
)

// RawFinding is one observation produced by an audit module during a job.
// Findings are append-only per job; the reconciler assigns ChangeStatus when
// the job completes.
type RawFinding struct {
	ID           uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID        string       `gorm:"type:text;not null;index" json:"job_id"`
	ModuleCode   string       `gorm:"type:text;not null" json:"module_code"`
	Category     string       `gorm:"type:text;not null" json:"category"`
	ResourceID   string       `gorm:"type:text;not null" json:"resource_id"`
	Severity     Severity     `gorm:"type:text;default:low" json:"severity"`
	Description  string       `gorm:"type:text" json:"description"`
	Fingerprint  string       `gorm:"type:text;not null;index" json:"fingerprint"`
	ChangeStatus ChangeStatus `gorm:"type:text" json:"change_status,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// TableName returns the database table name for RawFinding.
func (RawFinding) TableName() string {
	return "raw_findings"
}

// ComputeFingerprint derives the stable identity hash for a finding.
// The hash depends only on the module, category, resource, and normalized
// description, so the same logical finding maps to the same fingerprint
// across runs regardless of collection order.
func ComputeFingerprint(moduleCode, category, resourceID, description string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(description)), " ")
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(moduleCode)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(category)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(resourceID)))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil))
}

// EnsureFingerprint fills the Fingerprint field if it is empty.
func (f *RawFinding) EnsureFingerprint() {
	if f.Fingerprint == "" {
		f.Fingerprint = ComputeFingerprint(f.ModuleCode, f.Category, f.ResourceID, f.Description)
	}
}

// LedgerStatus is the lifecycle state of a ledger entry.
type LedgerStatus string

const (
	LedgerStatusOpen     LedgerStatus = "open"
	LedgerStatusResolved LedgerStatus = "resolved"
)

// LedgerEntry is the durable record of a unique finding for a customer.
// Exactly one entry exists per (customer_id, fingerprint). Entries are never
// deleted, only transitioned between open and resolved, preserving history
// for trend reporting. The reconciler is the sole writer.
type LedgerEntry struct {
	ID              uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	CustomerID      string       `gorm:"type:text;not null;index:idx_ledger_customer_fp,unique" json:"customer_id"`
	Fingerprint     string       `gorm:"type:text;not null;index:idx_ledger_customer_fp,unique" json:"fingerprint"`
	ModuleCode      string       `gorm:"type:text;not null;index" json:"module_code"`
	Category        string       `gorm:"type:text" json:"category"`
	ResourceID      string       `gorm:"type:text" json:"resource_id"`
	Severity        Severity     `gorm:"type:text;default:low" json:"severity"`
	Description     string       `gorm:"type:text" json:"description"`
	Status          LedgerStatus `gorm:"type:text;index;default:open" json:"status"`
	OccurrenceCount int          `gorm:"default:1" json:"occurrence_count"`
	FirstSeenAt     time.Time    `json:"first_seen_at"`
	LastSeenAt      time.Time    `json:"last_seen_at"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	LastJobID       string       `gorm:"type:text" json:"last_job_id"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// TableName returns the database table name for LedgerEntry.
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// LedgerDelta summarizes the ledger changes applied by one reconciliation.
type LedgerDelta struct {
	New       int `json:"new"`
	Recurring int `json:"recurring"`
	Resolved  int `json:"resolved"`
}
