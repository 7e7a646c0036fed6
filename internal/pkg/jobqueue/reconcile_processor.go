package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// processReconcileJob runs one reconciliation task. Any failed leg fails the
// job so the whole task is retried; every leg is safe to apply twice.
func (q *Queue) processReconcileJob(ctx context.Context, job *Job) error {
	if q.runner == nil {
		return fmt.Errorf("no reconciler configured")
	}
	payload, err := ReconcileJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}
	task := payload.Task(job.Type)
	if task.PaymentID == "" && task.Email == "" {
		return fmt.Errorf("reconcile job %s carries neither payment id nor email", job.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	outcome, err := q.runner.Run(ctx, task)
	if err != nil {
		return err
	}
	if outcome != nil && outcome.Failed() {
		return outcome.Err()
	}
	if outcome != nil {
		log.Debugf("[JobQueue] Reconcile job %s approved=%t legs=%d", job.ID, outcome.Approved, len(outcome.Legs))
	}
	return nil
}
