package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

// Memory is an in-process Queue for tests and single-process development.
// Nack re-enqueues the message with the attempt counter bumped, mirroring
// broker redelivery.
type Memory struct {
	ch chan schema.TaskQueued

	mu     sync.Mutex
	closed bool
}

func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 256
	}
	return &Memory{ch: make(chan schema.TaskQueued, size)}
}

func (q *Memory) Enqueue(ctx context.Context, msg schema.TaskQueued) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrUnavailable
	}
	q.mu.Unlock()

	if msg.Attempt == 0 {
		msg.Attempt = 1
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Memory) Dequeue(ctx context.Context) (schema.TaskQueued, Delivery, error) {
	select {
	case msg := <-q.ch:
		return msg, &memDelivery{q: q, msg: msg}, nil
	case <-ctx.Done():
		return schema.TaskQueued{}, nil, ctx.Err()
	}
}

func (q *Memory) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrUnavailable
	}
	return nil
}

// Close makes further operations fail with ErrUnavailable. Tests use it to
// simulate a broker outage.
func (q *Memory) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// Len reports how many messages are waiting for delivery.
func (q *Memory) Len() int { return len(q.ch) }

type memDelivery struct {
	q        *Memory
	msg      schema.TaskQueued
	once     sync.Once
	extended atomic.Int32
}

func (d *memDelivery) Ack() error { return nil }

func (d *memDelivery) InProgress() error {
	d.extended.Add(1)
	return nil
}

func (d *memDelivery) Nack() error {
	d.once.Do(func() {
		redelivered := d.msg
		redelivered.Attempt++
		select {
		case d.q.ch <- redelivered:
		default:
		}
	})
	return nil
}
