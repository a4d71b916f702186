package store

import (
	"context"
	"sync"
	"time"

	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

// Memory is an in-process Store with the same conditional-update semantics
// as the Postgres implementation. Used by tests and for single-process
// development without a database.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*schema.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*schema.Job)}
}

func (m *Memory) CreateJob(_ context.Context, job *schema.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneJob(job)
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.jobs[cp.ID] = cp
	return nil
}

func (m *Memory) GetJob(_ context.Context, jobID string) (*schema.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *Memory) ConditionalTransition(_ context.Context, jobID string, from, to schema.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != from {
		return ErrConflict
	}
	job.Status = to
	job.UpdatedAt = time.Now()
	if to == schema.StatusProcessing && job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}
	return nil
}

func (m *Memory) AppendStageOutput(_ context.Context, jobID, stageName, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.StageOutputs == nil {
		job.StageOutputs = make(map[string]string)
	}
	if _, committed := job.StageOutputs[stageName]; committed {
		return nil
	}
	job.StageOutputs[stageName] = output
	job.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MarkCompleted(_ context.Context, jobID string, confidence schema.ConfidenceRating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != schema.StatusProcessing {
		return ErrConflict
	}
	now := time.Now()
	job.Status = schema.StatusCompleted
	job.ConfidenceRating = confidence
	job.CompletedAt = &now
	job.UpdatedAt = now
	if job.StartedAt != nil {
		job.ProcessingDurationMs = now.Sub(*job.StartedAt).Milliseconds()
	}
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, jobID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != schema.StatusProcessing && job.Status != schema.StatusPending {
		return ErrConflict
	}
	now := time.Now()
	job.Status = schema.StatusFailed
	job.ErrorMessage = message
	job.CompletedAt = &now
	job.UpdatedAt = now
	if job.StartedAt != nil {
		job.ProcessingDurationMs = now.Sub(*job.StartedAt).Milliseconds()
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func cloneJob(job *schema.Job) *schema.Job {
	cp := *job
	if job.StageOutputs != nil {
		cp.StageOutputs = make(map[string]string, len(job.StageOutputs))
		for k, v := range job.StageOutputs {
			cp.StageOutputs[k] = v
		}
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
