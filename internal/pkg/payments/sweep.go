package payments

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/technovacao/registration/internal/pkg/capacity"
	"github.com/technovacao/registration/internal/pkg/mercadopago"
)

const sweepBatchSize = 200

// SweepReport summarizes one pass over stale pending attempts.
type SweepReport struct {
	Checked       int `json:"checked"`
	Completed     int `json:"completed"`
	ReleasedSeats int `json:"released_seats"`
	Failed        int `json:"failed"`
}

// Sweep looks up pending attempts older than minAge at the provider and
// applies the approved ones, which covers lost or early notifications. Holds
// of attempts older than holdTTL are given back to the members ceiling.
func (r *Reconciler) Sweep(ctx context.Context, minAge, holdTTL time.Duration) (SweepReport, error) {
	var report SweepReport
	now := r.now()

	rows, err := r.store.ListStalePending(ctx, now.Add(-minAge), sweepBatchSize)
	if err != nil {
		return report, err
	}

	lookups := true
	for _, row := range rows {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		if lookups && row.ExternalReference != "" {
			completed, err := r.sweepLookup(ctx, row.ExternalReference)
			switch {
			case errors.Is(err, mercadopago.ErrNotConfigured):
				lookups = false
			case err != nil:
				report.Failed++
				log.Warnf("[Reconcile] Sweep lookup of %s failed: %v", row.ExternalReference, err)
			case completed:
				report.Completed++
				continue
			}
		}

		if holdTTL > 0 && row.HeldSeats > 0 && row.CreatedAt.Before(now.Add(-holdTTL)) {
			cleared, err := r.store.ClearHold(ctx, row.ID, row.HeldSeats)
			if err != nil {
				report.Failed++
				log.Errorf("[Reconcile] Failed to clear hold of pending payment %d: %v", row.ID, err)
				continue
			}
			if !cleared {
				continue
			}
			if err := r.seats.Release(ctx, capacity.Members, int64(row.HeldSeats)); err != nil {
				report.Failed++
				log.Errorf("[Reconcile] Failed to release %d seats of pending payment %d: %v", row.HeldSeats, row.ID, err)
				continue
			}
			report.ReleasedSeats += row.HeldSeats
		}
	}

	if report.Checked > 0 {
		log.Infof("[Reconcile] Sweep checked=%d completed=%d released_seats=%d failed=%d",
			report.Checked, report.Completed, report.ReleasedSeats, report.Failed)
	}
	return report, nil
}

// sweepLookup applies every approved payment carrying ref and reports
// whether one of them completed the pending attempt.
func (r *Reconciler) sweepLookup(ctx context.Context, ref string) (bool, error) {
	found, err := r.provider.SearchByExternalReference(ctx, ref)
	if err != nil {
		return false, err
	}
	completed := false
	for i := range found {
		payment := found[i]
		if !payment.IsApproved() {
			continue
		}
		out := r.apply(ctx, &payment)
		if leg, ok := out.Leg(LegPending); ok && leg.Updated > 0 {
			completed = true
		}
	}
	return completed, nil
}
