// Package store persists analysis job records. The store is the single
// source of truth for job state; the queue only carries pointers into it.
// ConditionalTransition is the sole cross-worker concurrency primitive: a
// compare-and-set on the status column that converts the queue's
// at-least-once delivery into effectively-once processing.
package store

import (
	"context"
	"errors"

	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

var (
	// ErrNotFound is returned when no job exists for the given id.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned by ConditionalTransition and the terminal
	// markers when the job's current status does not match the expected
	// one. Callers racing for a claim treat it as "someone else won".
	ErrConflict = errors.New("job status conflict")
)

type Store interface {
	CreateJob(ctx context.Context, job *schema.Job) error
	GetJob(ctx context.Context, jobID string) (*schema.Job, error)

	// ConditionalTransition atomically moves the job from one status to
	// another. It fails with ErrConflict, without side effect, when the
	// current status differs from the expected one. Transitioning into
	// processing records started_at on the first claim only.
	ConditionalTransition(ctx context.Context, jobID string, from, to schema.JobStatus) error

	// AppendStageOutput commits one stage's output. Committed outputs are
	// write-once: appending a stage that already has an output is a no-op,
	// never an overwrite.
	AppendStageOutput(ctx context.Context, jobID, stageName, output string) error

	// MarkCompleted and MarkFailed move a job to its terminal state,
	// stamping completed_at and the processing duration. MarkCompleted
	// requires the job to be processing. MarkFailed also accepts pending,
	// so the ingress can fail a submission whose enqueue never happened.
	// Both fail with ErrConflict otherwise.
	MarkCompleted(ctx context.Context, jobID string, confidence schema.ConfidenceRating) error
	MarkFailed(ctx context.Context, jobID, message string) error

	Ping(ctx context.Context) error
}
