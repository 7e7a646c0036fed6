package payments

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

type TaskKind string

const (
	// TaskPayment re-fetches a provider payment and applies it.
	TaskPayment TaskKind = "payment"
	// TaskLegacySale applies an Even3 sale matched by payer email.
	TaskLegacySale TaskKind = "legacy_sale"
)

// Task is one unit of reconciliation work handed off by the webhook.
type Task struct {
	Kind      TaskKind `json:"kind"`
	PaymentID string   `json:"payment_id,omitempty"`
	Email     string   `json:"email,omitempty"`
	LogID     uint     `json:"log_id,omitempty"`
}

// Dispatcher schedules a Task to run outside the request that produced it.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// Runner executes a Task. *Reconciler is the production Runner.
type Runner interface {
	Run(ctx context.Context, task Task) (*Outcome, error)
}

// AsyncDispatcher runs each task on its own goroutine after a settle delay,
// bounded by a timeout. It is used when no job queue is configured.
type AsyncDispatcher struct {
	runner  Runner
	settle  time.Duration
	timeout time.Duration

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewAsyncDispatcher(runner Runner, settle, timeout time.Duration) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AsyncDispatcher{
		runner:  runner,
		settle:  settle,
		timeout: timeout,
		stop:    make(chan struct{}),
	}
}

func (d *AsyncDispatcher) Dispatch(_ context.Context, task Task) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if d.settle > 0 {
			timer := time.NewTimer(d.settle)
			select {
			case <-timer.C:
			case <-d.stop:
				timer.Stop()
				log.Warnf("[Reconcile] Dropping %s task %s on shutdown", task.Kind, taskSubject(task))
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		outcome, err := d.runner.Run(ctx, task)
		if err != nil {
			log.Errorf("[Reconcile] %s task %s failed: %v", task.Kind, taskSubject(task), err)
			return
		}
		if outcome != nil && outcome.Failed() {
			log.Errorf("[Reconcile] %s task %s finished with failed legs: %v", task.Kind, taskSubject(task), outcome.Err())
		}
	}()
	return nil
}

// Close stops pending settle waits and waits for running tasks.
func (d *AsyncDispatcher) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func taskSubject(task Task) string {
	if task.PaymentID != "" {
		return task.PaymentID
	}
	return task.Email
}
