// Package pipeline runs a fixed ordered sequence of stages for one job.
// Each stage sees the job's inputs plus every prior stage's output, and its
// own output is persisted the moment it succeeds, so a crash between stages
// never loses completed work. On re-execution the executor skips stages
// whose output is already committed and resumes at the first uncommitted
// one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

// Sink is the slice of the result store the executor writes to.
type Sink interface {
	AppendStageOutput(ctx context.Context, jobID, stageName, output string) error
}

// Stage is one named pipeline step. Execute receives the accumulated
// context and returns the stage's output text. Stages hold no state of
// their own; everything lives on the job record.
type Stage struct {
	Name    string
	Execute func(ctx context.Context, pc *Context) (string, error)
}

// Context is the accumulated input for a stage: the job's submission data
// plus all previously committed stage outputs, in pipeline order.
type Context struct {
	JobID        string
	DocumentRef  string
	DocumentText string
	Query        string
	Outputs      map[string]string
	Order        []string
}

// Output returns a prior stage's output, or "" if it is not committed.
func (c *Context) Output(stage string) string { return c.Outputs[stage] }

func (c *Context) commit(stage, output string) {
	if c.Outputs == nil {
		c.Outputs = make(map[string]string)
	}
	c.Outputs[stage] = output
	c.Order = append(c.Order, stage)
}

// RetryPolicy bounds per-stage retries. Backoff doubles after every failed
// attempt. StageTimeout caps a single attempt; the per-job ceiling is the
// caller's context deadline.
type RetryPolicy struct {
	MaxAttempts  int
	Backoff      time.Duration
	StageTimeout time.Duration
}

// StageError reports a stage that exhausted its retry budget. It marks the
// job failed; infrastructure errors (persist failures, job ceiling) are
// returned as ordinary errors instead so the caller can redeliver.
type StageError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Executor struct {
	stages []Stage
	sink   Sink
	policy RetryPolicy
	log    *slog.Logger
}

func NewExecutor(stages []Stage, sink Sink, policy RetryPolicy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Executor{stages: stages, sink: sink, policy: policy, log: logger}
}

// Run executes the pipeline for one job. Stages already committed on the
// job record are skipped. Returns the final accumulated context on
// success; a *StageError when a stage exhausts its retries; the context's
// error when the job ceiling is hit; any other error means the store could
// not be reached and the job should be redelivered.
func (e *Executor) Run(ctx context.Context, job *schema.Job, documentText string) (*Context, error) {
	pc := &Context{
		JobID:        job.ID,
		DocumentRef:  job.DocumentRef,
		DocumentText: documentText,
		Query:        job.Query,
		Outputs:      make(map[string]string),
	}
	log := e.log.With("job_id", job.ID)

	for i, st := range e.stages {
		if committed, ok := job.StageOutputs[st.Name]; ok {
			pc.commit(st.Name, committed)
			log.Info("stage already committed, skipping", "stage", st.Name, "index", i)
			continue
		}

		output, err := e.runStage(ctx, st, pc, log)
		if err != nil {
			return nil, err
		}
		if err := e.sink.AppendStageOutput(ctx, job.ID, st.Name, output); err != nil {
			return nil, fmt.Errorf("persist stage %s: %w", st.Name, err)
		}
		pc.commit(st.Name, output)
		log.Info("stage committed", "stage", st.Name, "index", i, "output_len", len(output))
	}
	return pc, nil
}

func (e *Executor) runStage(ctx context.Context, st Stage, pc *Context, log *slog.Logger) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("job ceiling exceeded before stage %s: %w", st.Name, err)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if e.policy.StageTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.policy.StageTimeout)
		}
		start := time.Now()
		output, err := st.Execute(attemptCtx, pc)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return output, nil
		}
		lastErr = err
		log.Warn("stage attempt failed", "stage", st.Name, "attempt", attempt, "error", err, "elapsed_ms", time.Since(start).Milliseconds())

		// A dead parent context means the per-job ceiling was hit, not a
		// stage-level failure; surface it as such.
		if ctx.Err() != nil {
			return "", fmt.Errorf("job ceiling exceeded in stage %s: %w", st.Name, ctx.Err())
		}
		if attempt < e.policy.MaxAttempts {
			if err := sleep(ctx, e.policy.Backoff<<(attempt-1)); err != nil {
				return "", fmt.Errorf("job ceiling exceeded in stage %s: %w", st.Name, err)
			}
		}
	}
	return "", &StageError{Stage: st.Name, Attempts: e.policy.MaxAttempts, Err: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsStageError reports whether err is a terminal stage failure.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}
