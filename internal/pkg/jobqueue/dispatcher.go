package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/technovacao/registration/internal/pkg/payments"
)

// Dispatcher hands webhook tasks to the Redis queue. Jobs survive a restart
// and failed legs are retried by the queue.
type Dispatcher struct {
	queue *Queue
	delay time.Duration
}

// NewDispatcher returns a payments.Dispatcher that enqueues each task after
// the provider settle delay.
func NewDispatcher(queue *Queue, settleDelay time.Duration) *Dispatcher {
	return &Dispatcher{queue: queue, delay: settleDelay}
}

func (d *Dispatcher) Dispatch(ctx context.Context, task payments.Task) error {
	jobType, ok := jobTypeForTask(task.Kind)
	if !ok {
		return fmt.Errorf("unsupported reconcile task kind %q", task.Kind)
	}
	payload := ReconcileJobPayload{PaymentID: task.PaymentID, Email: task.Email, LogID: task.LogID}
	_, err := d.queue.EnqueueJobAfter(ctx, jobType, payload.ToMap(), d.delay)
	return err
}

var _ payments.Dispatcher = (*Dispatcher)(nil)
