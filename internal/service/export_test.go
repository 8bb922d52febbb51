package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/modules"
)

// fakeObjectStore captures uploads in memory.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *fakeObjectStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	s.objects[key] = data
	return nil
}

func (s *fakeObjectStore) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeObjectStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeObjectStore) EnsureBucket(context.Context) error { return nil }

func (s *fakeObjectStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

// TestExportArtifactCarriesChangeStatus verifies the uploaded artifact holds
// the reconciled findings rather than the raw pre-reconciliation rows
func TestExportArtifactCarriesChangeStatus(t *testing.T) {
	registry := modules.NewRegistry()
	registry.Register(10, &fakeModule{
		code:     "NETWORK",
		findings: []domain.RawFinding{finding("NETWORK", "exposure", "/nsg/web", "high", "port 22 open to any")},
	})
	fx := newOrchestratorFixture(t, registry, nil)
	store := &fakeObjectStore{}
	fx.orchestrator.exporter = NewExporter(store)
	ctx := context.Background()

	jobID, err := fx.orchestrator.Start(ctx, fx.customer.ID, fx.conn.ID, []string{"NETWORK"}, domain.TriggerManual)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := fx.orchestrator.Run(ctx, jobID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	key := fmt.Sprintf("assessments/%s/%s.json", fx.customer.ID, jobID)
	data, ok := store.get(key)
	if !ok {
		t.Fatalf("no artifact uploaded under %s", key)
	}

	var artifact struct {
		Job      *domain.AssessmentJob `json:"job"`
		Findings []domain.RawFinding   `json:"findings"`
	}
	if err := json.Unmarshal(data, &artifact); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if artifact.Job == nil || artifact.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("artifact job not completed: %+v", artifact.Job)
	}
	if len(artifact.Findings) != 1 {
		t.Fatalf("artifact has %d findings, want 1", len(artifact.Findings))
	}
	if artifact.Findings[0].ChangeStatus != domain.ChangeStatusNew {
		t.Errorf("artifact finding change status = %q, want %q",
			artifact.Findings[0].ChangeStatus, domain.ChangeStatusNew)
	}
}
