// Package worker claims queued jobs and drives the pipeline executor.
// The conditional status transition on the result store is what turns the
// queue's at-least-once delivery into effectively-once processing: exactly
// one claim succeeds, and a redelivered message for a finished job is acked
// as a no-op.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/umar7shaikh/financial-document-analyzer/internal/analysis"
	"github.com/umar7shaikh/financial-document-analyzer/internal/pipeline"
	"github.com/umar7shaikh/financial-document-analyzer/internal/queue"
	"github.com/umar7shaikh/financial-document-analyzer/internal/store"
	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

// DocumentSource resolves a job's document_ref to its text content.
type DocumentSource interface {
	Load(ref string) (string, error)
	Remove(ref string) error
}

type Worker struct {
	store      store.Store
	queue      queue.Queue
	exec       *pipeline.Executor
	docs       DocumentSource
	jobTimeout time.Duration
	ackWait    time.Duration
	log        *slog.Logger
}

// New builds a worker. ackWait is the broker's visibility window; while a
// claimed job runs, the worker extends the window at a third of it so a live
// claim is never redelivered no matter how long the pipeline takes. Zero
// disables extension.
func New(st store.Store, q queue.Queue, exec *pipeline.Executor, docs DocumentSource, jobTimeout, ackWait time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: st, queue: q, exec: exec, docs: docs, jobTimeout: jobTimeout, ackWait: ackWait, log: logger}
}

// Run is one sequential job-consumption loop. It returns when ctx is done.
// Callers wanting more parallelism run several loops; each honors the claim
// discipline independently.
func (w *Worker) Run(ctx context.Context) error {
	for {
		msg, delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("dequeue failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		w.Handle(ctx, msg, delivery)
	}
}

// Handle processes one delivered message end to end, including the ack or
// nack decision.
func (w *Worker) Handle(ctx context.Context, msg schema.TaskQueued, delivery queue.Delivery) {
	log := w.log.With("job_id", msg.JobID, "attempt", msg.Attempt)

	if err := w.claim(ctx, msg, log); err != nil {
		switch {
		case errors.Is(err, errSkip):
			_ = delivery.Ack()
		case errors.Is(err, errRetryLater):
			_ = delivery.Nack()
		default:
			log.Error("store unreachable during claim, releasing message", "error", err)
			_ = delivery.Nack()
		}
		return
	}

	// Extend the visibility window for as long as this handler holds the
	// claim. Redelivery then only happens when a holder stops heartbeating,
	// which is what makes the takeover in claim() safe.
	if w.ackWait > 0 {
		hbCtx, stopHeartbeat := context.WithCancel(context.Background())
		defer stopHeartbeat()
		go w.extendVisibility(hbCtx, delivery, log)
	}

	job, err := w.store.GetJob(ctx, msg.JobID)
	if err != nil {
		log.Error("load job after claim failed, releasing message", "error", err)
		_ = delivery.Nack()
		return
	}

	log.Info("processing job", "document_ref", job.DocumentRef, "committed_stages", len(job.StageOutputs))

	docText, err := w.docs.Load(job.DocumentRef)
	if err != nil {
		// The document can never reappear; this is a permanent failure.
		w.finish(ctx, log, delivery, func(ctx context.Context) error {
			return w.store.MarkFailed(ctx, job.ID, fmt.Sprintf("document unavailable: %v", err))
		})
		return
	}

	jobCtx := ctx
	var cancel context.CancelFunc
	if w.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	result, err := w.exec.Run(jobCtx, job, docText)
	switch {
	case err == nil:
		confidence := analysis.ExtractConfidence(result.Output(schema.StageVerification))
		done := w.finish(ctx, log, delivery, func(ctx context.Context) error {
			if err := w.store.MarkCompleted(ctx, job.ID, confidence); err != nil {
				return err
			}
			log.Info("job completed", "confidence", confidence)
			return nil
		})
		if done {
			if rmErr := w.docs.Remove(job.DocumentRef); rmErr != nil {
				log.Warn("document cleanup failed", "error", rmErr)
			}
		}

	case pipeline.IsStageError(err):
		w.finish(ctx, log, delivery, func(ctx context.Context) error {
			if mErr := w.store.MarkFailed(ctx, job.ID, err.Error()); mErr != nil {
				return mErr
			}
			log.Warn("job failed", "error", err)
			return nil
		})

	case ctx.Err() != nil:
		// Worker shutdown, not a job fault. Release the message so another
		// worker resumes from the committed stages.
		log.Info("shutdown during job, releasing message")
		_ = delivery.Nack()

	case errors.Is(err, context.DeadlineExceeded):
		w.finish(ctx, log, delivery, func(ctx context.Context) error {
			msg := fmt.Sprintf("analysis timed out after %s: %v", w.jobTimeout, err)
			if mErr := w.store.MarkFailed(ctx, job.ID, msg); mErr != nil {
				return mErr
			}
			log.Warn("job timed out", "job_timeout", w.jobTimeout)
			return nil
		})

	default:
		// Store or broker hiccup mid-pipeline. Committed outputs are
		// durable; redelivery resumes at the first uncommitted stage.
		log.Error("transient failure during job, releasing message", "error", err)
		_ = delivery.Nack()
	}
}

var (
	errSkip       = errors.New("message is a no-op")
	errRetryLater = errors.New("message not claimable yet")
)

// extendVisibility resets the delivery's visibility window until ctx is
// cancelled. The interval leaves two retries' worth of headroom before the
// window expires.
func (w *Worker) extendVisibility(ctx context.Context, delivery queue.Delivery, log *slog.Logger) {
	interval := w.ackWait / 3
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := delivery.InProgress(); err != nil {
				log.Warn("visibility extension failed", "error", err)
			}
		}
	}
}

// claim performs the conditional queued->processing transition. On a
// redelivered message it also takes over jobs left processing by a crashed
// worker: a live holder keeps extending the visibility window, so the broker
// redelivers only when the holder stopped heartbeating, and a
// still-processing status at that point is a stale claim.
func (w *Worker) claim(ctx context.Context, msg schema.TaskQueued, log *slog.Logger) error {
	err := w.store.ConditionalTransition(ctx, msg.JobID, schema.StatusQueued, schema.StatusProcessing)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("message for unknown job, dropping")
		return errSkip
	}
	if !errors.Is(err, store.ErrConflict) {
		return err
	}

	job, gerr := w.store.GetJob(ctx, msg.JobID)
	if gerr != nil {
		return gerr
	}
	switch {
	case job.Status.Terminal():
		log.Info("job already terminal, redelivery is a no-op", "status", job.Status)
		return errSkip
	case job.Status == schema.StatusProcessing && msg.Attempt > 1:
		// Reclaim via CAS so the takeover is still atomic.
		if terr := w.store.ConditionalTransition(ctx, msg.JobID, schema.StatusProcessing, schema.StatusProcessing); terr != nil {
			return terr
		}
		log.Info("reclaimed job from stale processing state")
		return nil
	case job.Status == schema.StatusPending:
		// The ingress enqueued before its pending->queued transition
		// committed; try again shortly.
		return errRetryLater
	default:
		log.Info("job claimed elsewhere, skipping", "status", job.Status)
		return errSkip
	}
}

// finish applies a terminal transition and acks only once it stuck,
// reporting whether it did. If the store is unreachable the message is
// released instead, and the redelivery finds the job either still
// processing (reclaim) or already terminal (no-op).
func (w *Worker) finish(ctx context.Context, log *slog.Logger, delivery queue.Delivery, mark func(context.Context) error) bool {
	if err := mark(ctx); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			log.Warn("terminal transition lost, acking", "error", err)
			_ = delivery.Ack()
			return false
		}
		log.Error("terminal transition failed, releasing message", "error", err)
		_ = delivery.Nack()
		return false
	}
	_ = delivery.Ack()
	return true
}
