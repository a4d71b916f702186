// Package queue delivers job-start messages from the ingress API to the
// workers, at-least-once. Messages are thin pointers into the result store;
// redelivery after a missed ack is what recovers jobs stuck by a crashed
// worker.
package queue

import (
	"context"
	"errors"

	"github.com/umar7shaikh/financial-document-analyzer/pkg/schema"
)

// ErrUnavailable wraps broker connectivity failures so the ingress can
// report 503 instead of telling the caller "queued" when it was not.
var ErrUnavailable = errors.New("queue unavailable")

// Delivery is the handle for one received message. Ack commits it; Nack
// releases it for redelivery. A message neither acked nor nacked within the
// broker's visibility window is redelivered. InProgress resets the window,
// so a holder that keeps calling it while working is never redelivered;
// redelivery therefore implies the previous holder stopped heartbeating.
type Delivery interface {
	Ack() error
	Nack() error
	InProgress() error
}

type Queue interface {
	Enqueue(ctx context.Context, msg schema.TaskQueued) error

	// Dequeue blocks cooperatively until a message is available or ctx is
	// done. The returned Attempt counts deliveries of this message,
	// starting at 1.
	Dequeue(ctx context.Context) (schema.TaskQueued, Delivery, error)

	Ping(ctx context.Context) error
}
