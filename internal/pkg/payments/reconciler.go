package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/capacity"
	"github.com/technovacao/registration/internal/pkg/even3"
	"github.com/technovacao/registration/internal/pkg/mercadopago"
)

const (
	LegPending = "pending_payment"
	LegMembers = "members"
	LegRobots  = "robots"
)

// LegResult is the effect of one independent reconciliation write.
type LegResult struct {
	Leg     string `json:"leg"`
	Updated int64  `json:"updated"`
	Err     error  `json:"-"`
}

// Outcome collects the legs applied for one payment or legacy sale.
type Outcome struct {
	PaymentID string      `json:"payment_id,omitempty"`
	Email     string      `json:"email,omitempty"`
	Approved  bool        `json:"approved"`
	Legs      []LegResult `json:"legs"`
}

func (o *Outcome) add(leg string, updated int64, err error) {
	o.Legs = append(o.Legs, LegResult{Leg: leg, Updated: updated, Err: err})
}

func (o *Outcome) Leg(name string) (LegResult, bool) {
	for _, l := range o.Legs {
		if l.Leg == name {
			return l, true
		}
	}
	return LegResult{}, false
}

func (o *Outcome) Failed() bool {
	return o.Err() != nil
}

// Err joins the errors of every failed leg.
func (o *Outcome) Err() error {
	var errs []error
	for _, l := range o.Legs {
		if l.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Leg, l.Err))
		}
	}
	return errors.Join(errs...)
}

// SaleVerifier confirms a legacy Even3 sale against Even3's own listing.
type SaleVerifier interface {
	HasPaidSale(ctx context.Context, email string) (bool, error)
}

// Inbound is a raw notification as received. Header keys are lower case.
type Inbound struct {
	Source  string
	Body    []byte
	Headers map[string]string
	Query   url.Values
}

// Ack is the answer the webhook endpoint returns to the provider.
type Ack struct {
	Status       int
	LogID        uint
	Notification Notification
	Signature    string
}

// Reconciler applies confirmed provider payments to teams, robots and
// pending attempts. Only it writes the paid flags.
type Reconciler struct {
	store      Store
	roster     Roster
	seats      Seats
	provider   Provider
	sales      SaleVerifier
	dispatcher Dispatcher
	secret     string
	now        func() time.Time
}

func NewReconciler(store Store, roster Roster, seats Seats, provider Provider, sales SaleVerifier, webhookSecret string) *Reconciler {
	return &Reconciler{
		store:    store,
		roster:   roster,
		seats:    seats,
		provider: provider,
		sales:    sales,
		secret:   strings.TrimSpace(webhookSecret),
		now:      time.Now,
	}
}

func (r *Reconciler) SetDispatcher(d Dispatcher) {
	r.dispatcher = d
}

// HandleNotification logs the notification, checks its signature and hands
// payment work to the dispatcher. It never waits for the provider.
func (r *Reconciler) HandleNotification(ctx context.Context, in Inbound) Ack {
	var n Notification
	verdict := models.SignatureNotChecked

	switch in.Source {
	case models.WebhookSourceEven3:
		n = DecodeEven3(in.Body)
	default:
		in.Source = models.WebhookSourceMercadoPago
		n = DecodeMercadoPago(in.Body, in.Query)
		if r.secret != "" {
			dataID := SignatureDataID(in.Query.Get("data.id"), n)
			if VerifySignature(r.secret, in.Headers["x-signature"], in.Headers["x-request-id"], dataID) {
				verdict = models.SignatureValid
			} else {
				verdict = models.SignatureInvalid
			}
		}
	}

	logID := r.appendLog(ctx, in, Action(n), verdict)
	ack := Ack{Status: http.StatusOK, LogID: logID, Notification: n, Signature: verdict}

	if verdict == models.SignatureInvalid {
		log.Warnf("[Webhook] Rejected %s notification %d: invalid signature", in.Source, logID)
		ack.Status = http.StatusUnauthorized
		return ack
	}

	var task *Task
	switch v := n.(type) {
	case Even3Sale:
		task = &Task{Kind: TaskLegacySale, Email: v.Email, LogID: logID}
	case UnknownNotification:
		log.Warnf("[Webhook] Unknown %s payload shape (log %d): %s", in.Source, logID, v.Reason)
	default:
		if id, ok := PaymentID(n); ok {
			task = &Task{Kind: TaskPayment, PaymentID: id, LogID: logID}
		} else {
			log.Infof("[Webhook] Ignoring %s notification %q (log %d)", in.Source, Action(n), logID)
		}
	}

	if task != nil {
		if r.dispatcher == nil {
			log.Errorf("[Webhook] No dispatcher configured, dropping %s task %s", task.Kind, taskSubject(*task))
		} else if err := r.dispatcher.Dispatch(ctx, *task); err != nil {
			log.Errorf("[Webhook] Failed to dispatch %s task %s: %v", task.Kind, taskSubject(*task), err)
		}
	}
	return ack
}

func (r *Reconciler) appendLog(ctx context.Context, in Inbound, action, verdict string) uint {
	headers := ""
	if len(in.Headers) > 0 {
		if b, err := json.Marshal(in.Headers); err == nil {
			headers = string(b)
		}
	}
	entry := &models.WebhookLog{
		Source:    in.Source,
		Action:    truncate(action, 100),
		Payload:   string(in.Body),
		Headers:   headers,
		Query:     in.Query.Encode(),
		Signature: verdict,
	}
	id, err := r.store.AppendWebhookLog(ctx, entry)
	if err != nil {
		log.Errorf("[Webhook] Failed to store %s notification log: %v", in.Source, err)
		return 0
	}
	return id
}

// Run executes a dispatched task. The returned error is set only when the
// whole task could not start, such as a failed provider fetch.
func (r *Reconciler) Run(ctx context.Context, task Task) (*Outcome, error) {
	switch task.Kind {
	case TaskPayment:
		return r.ReconcilePayment(ctx, task.PaymentID)
	case TaskLegacySale:
		return r.ReconcileLegacySale(ctx, task.Email)
	}
	return nil, fmt.Errorf("unknown reconcile task kind %q", task.Kind)
}

// ReconcilePayment re-fetches the payment from the provider and, when it is
// approved, applies it. Embedded notification data is never trusted.
func (r *Reconciler) ReconcilePayment(ctx context.Context, paymentID string) (*Outcome, error) {
	payment, err := r.provider.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	return r.apply(ctx, payment), nil
}

func (r *Reconciler) apply(ctx context.Context, payment *mercadopago.Payment) *Outcome {
	out := &Outcome{PaymentID: payment.IDString(), Approved: payment.IsApproved()}
	if !out.Approved {
		log.Infof("[Reconcile] Payment %s is %s/%s, nothing to apply", out.PaymentID, payment.Status, payment.StatusDetail)
		return out
	}

	meta := DecodeMetadata(payment.Metadata)

	comp, err := r.completePending(ctx, payment, meta)
	out.add(LegPending, comp.RowsAffected, err)
	held := comp.HeldSeats

	switch {
	case len(meta.MemberIDs) > 0:
		n, err := r.roster.MarkMembersPaid(ctx, meta.TeamID, meta.MemberIDs, held)
		out.add(LegMembers, n, err)
		if err != nil {
			r.releaseHeld(out.PaymentID, held)
		}
	case !meta.HasSelection():
		n, err := r.payByEmail(ctx, payment.Payer.Email, held)
		out.add(LegMembers, n, err)
		if err != nil {
			r.releaseHeld(out.PaymentID, held)
		}
	default:
		r.releaseHeld(out.PaymentID, held)
	}

	if len(meta.RobotIDs) > 0 {
		n, err := r.roster.MarkRobotsPaid(ctx, meta.TeamID, meta.RobotIDs)
		out.add(LegRobots, n, err)
	}

	r.logOutcome(out)
	return out
}

func (r *Reconciler) payByEmail(ctx context.Context, email string, held int) (int64, error) {
	if strings.TrimSpace(email) == "" {
		r.releaseHeld("", held)
		log.Warnf("[Reconcile] Approved payment without metadata or payer email, no members updated")
		return 0, nil
	}
	return r.roster.MarkMembersPaidByEmail(ctx, email, held)
}

// completePending flips the matching attempt: by provider payment id, then by
// external reference, then the oldest pending attempt of (team, user).
func (r *Reconciler) completePending(ctx context.Context, payment *mercadopago.Payment, meta Metadata) (Completion, error) {
	pid := payment.IDString()

	comp, err := r.store.MarkCompletedByProviderID(ctx, pid)
	if err != nil || comp.RowsAffected > 0 {
		return comp, err
	}
	comp, err = r.store.MarkCompletedByExternalReference(ctx, payment.ExternalReference, pid)
	if err != nil || comp.RowsAffected > 0 {
		return comp, err
	}
	return r.store.MarkCompletedByTeamUser(ctx, meta.TeamID, meta.UserID, pid)
}

// releaseHeld returns seats that were held for a completed attempt but could
// not be carried into paid members.
func (r *Reconciler) releaseHeld(paymentID string, held int) {
	if held <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.seats.Release(ctx, capacity.Members, int64(held)); err != nil {
		log.Errorf("[Reconcile] Failed to release %d held seats of payment %s: %v", held, paymentID, err)
	}
}

// ReconcileLegacySale marks the members of the buyer paid once Even3 itself
// lists a paid sale for the email.
func (r *Reconciler) ReconcileLegacySale(ctx context.Context, email string) (*Outcome, error) {
	out := &Outcome{Email: email}
	if r.sales == nil {
		return nil, even3.ErrNotConfigured
	}
	paid, err := r.sales.HasPaidSale(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("verify even3 sale for %s: %w", email, err)
	}
	if !paid {
		log.Infof("[Reconcile] Even3 lists no paid sale for %s, nothing to apply", email)
		return out, nil
	}
	out.Approved = true
	n, err := r.roster.MarkMembersPaidByEmail(ctx, email, 0)
	out.add(LegMembers, n, err)
	r.logOutcome(out)
	return out, nil
}

// ListLogs pages the webhook audit trail, newest first.
func (r *Reconciler) ListLogs(ctx context.Context, source string, beforeID uint, limit int) ([]models.WebhookLog, error) {
	return r.store.ListWebhookLogs(ctx, source, beforeID, limit)
}

func (r *Reconciler) logOutcome(out *Outcome) {
	subject := out.PaymentID
	if subject == "" {
		subject = out.Email
	}
	parts := make([]string, 0, len(out.Legs))
	for _, l := range out.Legs {
		if l.Err != nil {
			parts = append(parts, fmt.Sprintf("%s=error(%v)", l.Leg, l.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d", l.Leg, l.Updated))
	}
	if out.Failed() {
		log.Errorf("[Reconcile] Applied %s with failures: %s", subject, strings.Join(parts, " "))
		return
	}
	log.Infof("[Reconcile] Applied %s: %s", subject, strings.Join(parts, " "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
