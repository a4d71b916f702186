package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

type recordingSink struct {
	commits []string
	outputs map[string]string
	failErr error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{outputs: make(map[string]string)}
}

func (s *recordingSink) AppendStageOutput(_ context.Context, _ string, stage, output string) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.commits = append(s.commits, stage)
	s.outputs[stage] = output
	return nil
}

func job(outputs map[string]string) *schema.Job {
	return &schema.Job{
		ID:           "j1",
		DocumentRef:  "doc-1",
		Query:        "Assess risk",
		Status:       schema.StatusProcessing,
		StageOutputs: outputs,
	}
}

func quickPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Backoff: time.Millisecond, StageTimeout: time.Second}
}

func TestRunCommitsStagesInOrder(t *testing.T) {
	sink := newRecordingSink()
	stages := []Stage{
		{Name: "research", Execute: func(_ context.Context, pc *Context) (string, error) {
			return "research on " + pc.Query, nil
		}},
		{Name: "assess", Execute: func(_ context.Context, pc *Context) (string, error) {
			if pc.Output("research") == "" {
				return "", errors.New("missing prior output")
			}
			return "assessment", nil
		}},
	}

	ex := NewExecutor(stages, sink, quickPolicy(1), nil)
	pc, err := ex.Run(context.Background(), job(nil), "doc text")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.commits) != 2 || sink.commits[0] != "research" || sink.commits[1] != "assess" {
		t.Fatalf("unexpected commit order: %v", sink.commits)
	}
	if pc.Output("assess") != "assessment" {
		t.Fatalf("final context missing output: %+v", pc.Outputs)
	}
}

func TestRunResumesAtFirstUncommittedStage(t *testing.T) {
	sink := newRecordingSink()
	researchRan := false
	stages := []Stage{
		{Name: "research", Execute: func(context.Context, *Context) (string, error) {
			researchRan = true
			return "recomputed", nil
		}},
		{Name: "assess", Execute: func(_ context.Context, pc *Context) (string, error) {
			return "assessed from " + pc.Output("research"), nil
		}},
	}

	ex := NewExecutor(stages, sink, quickPolicy(1), nil)
	pc, err := ex.Run(context.Background(), job(map[string]string{"research": "committed earlier"}), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if researchRan {
		t.Fatal("committed stage must not re-execute")
	}
	if len(sink.commits) != 1 || sink.commits[0] != "assess" {
		t.Fatalf("unexpected commits: %v", sink.commits)
	}
	if pc.Output("assess") != "assessed from committed earlier" {
		t.Fatalf("resumed stage did not see committed output: %q", pc.Output("assess"))
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	sink := newRecordingSink()
	calls := 0
	stages := []Stage{
		{Name: "flaky", Execute: func(context.Context, *Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient provider error")
			}
			return "ok", nil
		}},
	}

	ex := NewExecutor(stages, sink, quickPolicy(3), nil)
	if _, err := ex.Run(context.Background(), job(nil), ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRunPromotesExhaustedRetriesToStageError(t *testing.T) {
	sink := newRecordingSink()
	laterRan := false
	stages := []Stage{
		{Name: "broken", Execute: func(context.Context, *Context) (string, error) {
			return "", errors.New("permanent failure")
		}},
		{Name: "later", Execute: func(context.Context, *Context) (string, error) {
			laterRan = true
			return "never", nil
		}},
	}

	ex := NewExecutor(stages, sink, quickPolicy(2), nil)
	_, err := ex.Run(context.Background(), job(nil), "")

	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if se.Stage != "broken" || se.Attempts != 2 {
		t.Fatalf("unexpected stage error: %+v", se)
	}
	if laterRan {
		t.Fatal("pipeline must abort after a terminal stage failure")
	}
	if len(sink.commits) != 0 {
		t.Fatalf("failed stage must not commit output: %v", sink.commits)
	}
}

func TestRunJobCeilingIsNotAStageError(t *testing.T) {
	sink := newRecordingSink()
	stages := []Stage{
		{Name: "slow", Execute: func(ctx context.Context, _ *Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ex := NewExecutor(stages, sink, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, nil)
	_, err := ex.Run(ctx, job(nil), "")

	if err == nil || IsStageError(err) {
		t.Fatalf("job ceiling must not be a StageError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestRunPropagatesSinkFailure(t *testing.T) {
	sink := newRecordingSink()
	sink.failErr = fmt.Errorf("store unreachable")
	stages := []Stage{
		{Name: "research", Execute: func(context.Context, *Context) (string, error) {
			return "out", nil
		}},
	}

	ex := NewExecutor(stages, sink, quickPolicy(1), nil)
	_, err := ex.Run(context.Background(), job(nil), "")
	if err == nil || IsStageError(err) {
		t.Fatalf("persist failure must be an infrastructure error, got %v", err)
	}
}

func TestStageTimeoutCountsAsAttempt(t *testing.T) {
	sink := newRecordingSink()
	calls := 0
	stages := []Stage{
		{Name: "sometimes-slow", Execute: func(ctx context.Context, _ *Context) (string, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "fast enough", nil
		}},
	}

	ex := NewExecutor(stages, sink, RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond, StageTimeout: 10 * time.Millisecond}, nil)
	if _, err := ex.Run(context.Background(), job(nil), ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry after per-stage timeout, calls = %d", calls)
	}
}
