package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

func TestMemoryDeliversInOrder(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, schema.TaskQueued{JobID: id}); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}

	msg, d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if msg.JobID != "a" || msg.Attempt != 1 {
		t.Fatalf("unexpected first delivery: %+v", msg)
	}
	if err := d.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestMemoryNackRedelivers(t *testing.T) {
	q := NewMemory(4)
	ctx := context.Background()

	if err := q.Enqueue(ctx, schema.TaskQueued{JobID: "j1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	_, d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := d.Nack(); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	// Repeated Nack on the same handle must not duplicate the message.
	_ = d.Nack()

	msg, _, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("redelivery Dequeue: %v", err)
	}
	if msg.JobID != "j1" || msg.Attempt != 2 {
		t.Fatalf("unexpected redelivery: %+v", msg)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, %d waiting", q.Len())
	}
}

func TestMemoryConcurrentConsumersDeliverOnce(t *testing.T) {
	const msgs, consumers = 24, 4
	q := NewMemory(msgs)
	ctx := context.Background()

	for i := 0; i < msgs; i++ {
		if err := q.Enqueue(ctx, schema.TaskQueued{JobID: strconv.Itoa(i)}); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int, msgs)
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				dctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
				msg, d, err := q.Dequeue(dctx)
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[msg.JobID]++
				mu.Unlock()
				_ = d.Ack()
			}
		}()
	}
	wg.Wait()

	if len(seen) != msgs {
		t.Fatalf("delivered %d distinct messages, want %d", len(seen), msgs)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("message %s delivered %d times", id, n)
		}
	}
}

func TestMemoryDequeueHonorsContext(t *testing.T) {
	q := NewMemory(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestMemoryClosedIsUnavailable(t *testing.T) {
	q := NewMemory(1)
	q.Close()

	if err := q.Enqueue(context.Background(), schema.TaskQueued{JobID: "j1"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := q.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Ping, got %v", err)
	}
}
