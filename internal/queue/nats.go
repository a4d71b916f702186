package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/umar7shaikh/financial-document-analyzer/internal/config"
	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

// JetStream implements Queue on a NATS JetStream work-queue stream with a
// durable explicit-ack consumer. AckWait is the visibility window; an
// unacked message is redelivered after it elapses, up to MaxDeliver times.
type JetStream struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg config.QueueConfig

	subMu sync.Mutex
	sub   *nats.Subscription
}

func Connect(cfg config.QueueConfig) (*JetStream, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrUnavailable, cfg.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream: %v", ErrUnavailable, err)
	}
	return &JetStream{nc: nc, js: js, cfg: cfg}, nil
}

func (q *JetStream) Close() {
	if q.nc != nil {
		_ = q.nc.Drain()
	}
}

// EnsureStream creates the work-queue stream if it does not exist yet.
// Both binaries call it on startup so either can be brought up first.
func (q *JetStream) EnsureStream() error {
	_, err := q.js.AddStream(&nats.StreamConfig{
		Name:      q.cfg.Stream,
		Subjects:  []string{q.cfg.Subject},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("%w: ensure stream %s: %v", ErrUnavailable, q.cfg.Stream, err)
	}
	return nil
}

func (q *JetStream) Enqueue(ctx context.Context, msg schema.TaskQueued) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := q.js.Publish(q.cfg.Subject, b, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: publish job %s: %v", ErrUnavailable, msg.JobID, err)
	}
	return nil
}

func (q *JetStream) Dequeue(ctx context.Context) (schema.TaskQueued, Delivery, error) {
	sub, err := q.subscription()
	if err != nil {
		return schema.TaskQueued{}, nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, q.cfg.Subject, err)
	}

	for {
		msgs, err := sub.Fetch(1, nats.Context(ctx))
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return schema.TaskQueued{}, nil, err
		}
		if errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			return schema.TaskQueued{}, nil, fmt.Errorf("%w: fetch: %v", ErrUnavailable, err)
		}
		if len(msgs) == 0 {
			continue
		}

		raw := msgs[0]
		var msg schema.TaskQueued
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			// Malformed messages can never succeed; drop them.
			_ = raw.Term()
			continue
		}
		if meta, err := raw.Metadata(); err == nil {
			msg.Attempt = int(meta.NumDelivered)
		} else if msg.Attempt == 0 {
			msg.Attempt = 1
		}
		return msg, &jsDelivery{msg: raw}, nil
	}
}

// subscription lazily creates the shared durable pull subscription. All
// consumption loops use the same one; Fetch issues an independent pull
// request per call, so concurrent fetches are safe once it exists. A failed
// creation is not cached, the next Dequeue retries.
func (q *JetStream) subscription() (*nats.Subscription, error) {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	if q.sub != nil {
		return q.sub, nil
	}
	sub, err := q.js.PullSubscribe(q.cfg.Subject, q.cfg.Durable,
		nats.AckExplicit(),
		nats.AckWait(q.cfg.AckWait),
		nats.MaxDeliver(q.cfg.MaxDeliver),
	)
	if err != nil {
		return nil, err
	}
	q.sub = sub
	return sub, nil
}

func (q *JetStream) Ping(ctx context.Context) error {
	if q.nc == nil || !q.nc.IsConnected() {
		return ErrUnavailable
	}
	if _, err := q.js.StreamInfo(q.cfg.Stream, nats.Context(ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

type jsDelivery struct{ msg *nats.Msg }

func (d *jsDelivery) Ack() error        { return d.msg.Ack() }
func (d *jsDelivery) Nack() error       { return d.msg.Nak() }
func (d *jsDelivery) InProgress() error { return d.msg.InProgress() }
