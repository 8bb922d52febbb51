package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/storage"
)

// Exporter writes a JSON artifact for each finished assessment to object
// storage, for the reporting layer to pick up.
type Exporter struct {
	store storage.ObjectStorage
}

// NewExporter creates an exporter over the given store.
func NewExporter(store storage.ObjectStorage) *Exporter {
	return &Exporter{store: store}
}

type assessmentArtifact struct {
	Job        *domain.AssessmentJob `json:"job"`
	Modules    []domain.ModuleResult `json:"modules"`
	Findings   []domain.RawFinding   `json:"findings"`
	ExportedAt time.Time             `json:"exported_at"`
}

// ExportAssessment uploads the job summary, module results, and reconciled
// findings as one JSON object keyed by customer and job.
func (e *Exporter) ExportAssessment(ctx context.Context, job *domain.AssessmentJob, results []domain.ModuleResult, findings []domain.RawFinding) error {
	artifact := assessmentArtifact{
		Job:        job,
		Modules:    results,
		Findings:   findings,
		ExportedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode assessment artifact: %w", err)
	}

	key := fmt.Sprintf("assessments/%s/%s.json", job.CustomerID, job.ID)
	if err := e.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("failed to upload assessment artifact: %w", err)
	}
	return nil
}
