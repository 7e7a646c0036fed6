package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/mercadopago"
)

func paymentWebhook(id string) Inbound {
	return Inbound{
		Source: models.WebhookSourceMercadoPago,
		Body:   []byte(`{"action":"payment.updated","type":"payment","data":{"id":"` + id + `"}}`),
		Query:  url.Values{"data.id": {id}, "type": {"payment"}},
	}
}

func sign(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("id:" + dataID + ";request-id:" + requestID + ";ts:" + ts + ";"))
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookApprovedPaymentMarksEverythingPaid(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()

	res, err := f.service.CreateCheckout(ctx, leaderCheckout([]string{"u-bia", "u-caio"}, []string{"r-1"}))
	require.NoError(t, err)
	pid := f.provider.pay(res.ExternalReference, mercadopago.StatusApproved, mercadopago.StatusDetailAccredited)

	ack := f.reconciler.HandleNotification(ctx, paymentWebhook(pid))
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.NotZero(t, ack.LogID)
	assert.Equal(t, models.SignatureNotChecked, ack.Signature)

	require.Len(t, f.dispatcher.outcomes, 1)
	require.NoError(t, f.dispatcher.errs[0])
	out := f.dispatcher.outcomes[0]
	assert.True(t, out.Approved)
	assert.False(t, out.Failed())

	leg, _ := out.Leg(LegPending)
	assert.Equal(t, int64(1), leg.Updated)
	leg, _ = out.Leg(LegMembers)
	assert.Equal(t, int64(2), leg.Updated)
	leg, _ = out.Leg(LegRobots)
	assert.Equal(t, int64(1), leg.Updated)

	assert.True(t, f.roster.memberPaid("t-1", "u-bia"))
	assert.True(t, f.roster.memberPaid("t-1", "u-caio"))
	assert.False(t, f.roster.memberPaid("t-1", "u-leader"))
	assert.True(t, f.roster.robotPaid("r-1"))
	assert.False(t, f.roster.robotPaid("r-2"))

	row := f.store.pending(res.PendingPaymentID)
	assert.Equal(t, models.PaymentStatusCompleted, row.Status)
	assert.Equal(t, pid, row.ProviderPaymentID)
	assert.Equal(t, 0, row.HeldSeats)
	assert.Equal(t, int64(2), f.seats.Used(), "held seats become paid seats")
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()

	res, err := f.service.CreateCheckout(ctx, leaderCheckout([]string{"u-bia"}, []string{"r-2"}))
	require.NoError(t, err)
	pid := f.provider.pay(res.ExternalReference, mercadopago.StatusApproved, mercadopago.StatusDetailAccredited)

	for i := 0; i < 5; i++ {
		ack := f.reconciler.HandleNotification(ctx, paymentWebhook(pid))
		assert.Equal(t, http.StatusOK, ack.Status)
	}

	require.Len(t, f.dispatcher.outcomes, 5)
	for i, out := range f.dispatcher.outcomes {
		pending, _ := out.Leg(LegPending)
		members, _ := out.Leg(LegMembers)
		if i == 0 {
			assert.Equal(t, int64(1), pending.Updated)
			assert.Equal(t, int64(1), members.Updated)
			continue
		}
		assert.Equal(t, int64(0), pending.Updated, "delivery %d", i)
		assert.Equal(t, int64(0), members.Updated, "delivery %d", i)
	}
	assert.Equal(t, int64(1), f.seats.Used())
	assert.Equal(t, 5, f.store.logCount())
}

func TestWebhookInvalidSignatureIsRejected(t *testing.T) {
	f := newFixture(10, "whsec")
	ctx := context.Background()

	res, err := f.service.CreateCheckout(ctx, leaderCheckout([]string{"u-bia"}, nil))
	require.NoError(t, err)
	pid := f.provider.pay(res.ExternalReference, mercadopago.StatusApproved, mercadopago.StatusDetailAccredited)

	in := paymentWebhook(pid)
	in.Headers = map[string]string{
		"x-signature":  sign("wrong-secret", pid, "req-1", "1700000000"),
		"x-request-id": "req-1",
	}
	ack := f.reconciler.HandleNotification(ctx, in)

	assert.Equal(t, http.StatusUnauthorized, ack.Status)
	assert.Equal(t, models.SignatureInvalid, ack.Signature)
	assert.Equal(t, 1, f.store.logCount(), "the rejected notification is still logged")
	assert.Equal(t, models.SignatureInvalid, f.store.logs[0].Signature)
	assert.Empty(t, f.dispatcher.tasks)
	assert.False(t, f.roster.memberPaid("t-1", "u-bia"))
	assert.Equal(t, models.PaymentStatusPending, f.store.pending(res.PendingPaymentID).Status)
}

func TestWebhookMissingSignatureIsRejectedWhenSecretSet(t *testing.T) {
	f := newFixture(10, "whsec")
	ack := f.reconciler.HandleNotification(context.Background(), paymentWebhook("123"))
	assert.Equal(t, http.StatusUnauthorized, ack.Status)
	assert.Empty(t, f.dispatcher.tasks)
}

func TestWebhookValidSignatureIsProcessed(t *testing.T) {
	f := newFixture(10, "whsec")
	ctx := context.Background()

	res, err := f.service.CreateCheckout(ctx, leaderCheckout([]string{"u-caio"}, nil))
	require.NoError(t, err)
	pid := f.provider.pay(res.ExternalReference, mercadopago.StatusApproved, mercadopago.StatusDetailAccredited)

	in := paymentWebhook(pid)
	in.Headers = map[string]string{
		"x-signature":  sign("whsec", pid, "req-9", "1700000001"),
		"x-request-id": "req-9",
	}
	ack := f.reconciler.HandleNotification(ctx, in)

	assert.Equal(t, http.StatusOK, ack.Status)
	assert.Equal(t, models.SignatureValid, ack.Signature)
	assert.True(t, f.roster.memberPaid("t-1", "u-caio"))
}

func TestWebhookUnknownPaymentMutatesNothing(t *testing.T) {
	f := newFixture(10, "")
	f.provider.addPayment(&mercadopago.Payment{
		ID:           777,
		Status:       mercadopago.StatusApproved,
		StatusDetail: mercadopago.StatusDetailAccredited,
		Payer:        mercadopago.Payer{Email: "stranger@example.com"},
	})

	ack := f.reconciler.HandleNotification(context.Background(), paymentWebhook("777"))

	assert.Equal(t, http.StatusOK, ack.Status)
	assert.Equal(t, 1, f.store.logCount())
	require.Len(t, f.dispatcher.outcomes, 1)
	out := f.dispatcher.outcomes[0]
	assert.False(t, out.Failed())
	for _, leg := range out.Legs {
		assert.Equal(t, int64(0), leg.Updated, leg.Leg)
	}
	assert.Equal(t, 0, f.roster.paidMembers())
	assert.Equal(t, int64(0), f.seats.Used())
}

func TestWebhookPendingPaymentIsNotApplied(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()

	res, err := f.service.CreateCheckout(ctx, leaderCheckout([]string{"u-bia"}, nil))
	require.NoError(t, err)
	pid := f.provider.pay(res.ExternalReference, mercadopago.StatusApproved, "pending_contingency")

	f.reconciler.HandleNotification(ctx, paymentWebhook(pid))

	require.Len(t, f.dispatcher.outcomes, 1)
	assert.False(t, f.dispatcher.outcomes[0].Approved)
	assert.Empty(t, f.dispatcher.outcomes[0].Legs)
	assert.False(t, f.roster.memberPaid("t-1", "u-bia"))
	assert.Equal(t, models.PaymentStatusPending, f.store.pending(res.PendingPaymentID).Status)
}

func TestWebhookProviderFetchFailureIsReported(t *testing.T) {
	f := newFixture(10, "")
	f.provider.getErr = errBoom

	ack := f.reconciler.HandleNotification(context.Background(), paymentWebhook("55"))

	assert.Equal(t, http.StatusOK, ack.Status)
	require.Len(t, f.dispatcher.errs, 1)
	assert.ErrorIs(t, f.dispatcher.errs[0], errBoom)
}

func TestWebhookIgnoresNonPaymentTopics(t *testing.T) {
	f := newFixture(10, "")

	ack := f.reconciler.HandleNotification(context.Background(), Inbound{
		Query: url.Values{"topic": {"merchant_order"}, "id": {"42"}},
	})
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.IsType(t, FeedNotification{}, ack.Notification)

	ack = f.reconciler.HandleNotification(context.Background(), Inbound{Body: []byte(`not json`)})
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.IsType(t, UnknownNotification{}, ack.Notification)

	assert.Empty(t, f.dispatcher.tasks)
	assert.Equal(t, 2, f.store.logCount())
}

func TestFeedNotificationIsReconciled(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()

	res, err := f.service.CreateCheckout(ctx, leaderCheckout(nil, []string{"r-1", "r-2"}))
	require.NoError(t, err)
	pid := f.provider.pay(res.ExternalReference, mercadopago.StatusApproved, mercadopago.StatusDetailAccredited)

	f.reconciler.HandleNotification(ctx, Inbound{
		Body: []byte(`{"resource":"https://api.mercadolibre.com/collections/notifications/` + pid + `","topic":"payment"}`),
	})

	assert.True(t, f.roster.robotPaid("r-1"))
	assert.True(t, f.roster.robotPaid("r-2"))
	assert.Equal(t, models.PaymentStatusCompleted, f.store.pending(res.PendingPaymentID).Status)
}

func TestMembersLegFailureReleasesHeldSeats(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()

	res, err := f.service.CreateCheckout(ctx, leaderCheckout([]string{"u-bia", "u-caio"}, []string{"r-1"}))
	require.NoError(t, err)
	pid := f.provider.pay(res.ExternalReference, mercadopago.StatusApproved, mercadopago.StatusDetailAccredited)
	f.roster.membersErr = errBoom

	out, err := f.reconciler.ReconcilePayment(ctx, pid)
	require.NoError(t, err)
	require.True(t, out.Failed())
	assert.ErrorIs(t, out.Err(), errBoom)

	robots, _ := out.Leg(LegRobots)
	assert.Equal(t, int64(1), robots.Updated, "legs are independent")
	assert.Equal(t, int64(0), f.seats.Used())

	// a retry after the fault reserves the seats again
	f.roster.membersErr = nil
	out, err = f.reconciler.ReconcilePayment(ctx, pid)
	require.NoError(t, err)
	assert.False(t, out.Failed())
	members, _ := out.Leg(LegMembers)
	assert.Equal(t, int64(2), members.Updated)
	assert.Equal(t, int64(2), f.seats.Used())
}

func TestPaymentWithoutMetadataUsesPayerEmail(t *testing.T) {
	f := newFixture(10, "")
	f.provider.addPayment(&mercadopago.Payment{
		ID:           4242,
		Status:       mercadopago.StatusApproved,
		StatusDetail: mercadopago.StatusDetailAccredited,
		Payer:        mercadopago.Payer{Email: "BIA@example.com"},
	})

	out, err := f.reconciler.ReconcilePayment(context.Background(), "4242")
	require.NoError(t, err)
	members, _ := out.Leg(LegMembers)
	assert.Equal(t, int64(1), members.Updated)
	assert.True(t, f.roster.memberPaid("t-1", "u-bia"))
	assert.Equal(t, int64(1), f.seats.Used())
}

func TestCompletionFallsBackToTeamAndUser(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()

	id, err := f.store.InsertPending(ctx, &models.PendingPayment{
		UserID: "u-leader", TeamID: "t-1", MemberIDs: []string{"u-bia"}, ExternalReference: "legacy-ref", HeldSeats: 1,
	})
	require.NoError(t, err)
	require.NoError(t, f.seats.Reserve(ctx, "members", 1))

	f.provider.addPayment(&mercadopago.Payment{
		ID:           5150,
		Status:       mercadopago.StatusApproved,
		StatusDetail: mercadopago.StatusDetailAccredited,
		Metadata:     []byte(`{"teamId":"t-1","userId":"u-leader","memberIds":["u-bia"]}`),
	})

	out, err := f.reconciler.ReconcilePayment(ctx, "5150")
	require.NoError(t, err)
	pending, _ := out.Leg(LegPending)
	assert.Equal(t, int64(1), pending.Updated)
	assert.Equal(t, models.PaymentStatusCompleted, f.store.pending(id).Status)
	assert.Equal(t, "5150", f.store.pending(id).ProviderPaymentID)
	assert.Equal(t, int64(1), f.seats.Used())
}

func TestEven3SaleVerifiedAgainstEven3(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()
	in := Inbound{Source: models.WebhookSourceEven3, Body: []byte(`{"action":"venda","data":{"buyer_email":"Caio@Example.com"}}`)}

	ack := f.reconciler.HandleNotification(ctx, in)
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.False(t, f.roster.memberPaid("t-1", "u-caio"), "unverified sale is not applied")

	f.sales.paid["caio@example.com"] = true
	f.reconciler.HandleNotification(ctx, in)
	assert.True(t, f.roster.memberPaid("t-1", "u-caio"))
	assert.Equal(t, int64(1), f.seats.Used())

	require.Len(t, f.dispatcher.tasks, 2)
	assert.Equal(t, TaskLegacySale, f.dispatcher.tasks[0].Kind)
}

func TestEven3RegistrationIsOnlyLogged(t *testing.T) {
	f := newFixture(10, "whsec")
	ack := f.reconciler.HandleNotification(context.Background(), Inbound{
		Source: models.WebhookSourceEven3,
		Body:   []byte(`{"action":"inscricao","data":{"email":"bia@example.com"}}`),
	})
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.Equal(t, models.SignatureNotChecked, ack.Signature)
	assert.Empty(t, f.dispatcher.tasks)
	assert.Equal(t, 1, f.store.logCount())
}

func TestListLogsNewestFirst(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()
	f.reconciler.HandleNotification(ctx, Inbound{Body: []byte(`{}`)})
	f.reconciler.HandleNotification(ctx, Inbound{Source: models.WebhookSourceEven3, Body: []byte(`{"action":"inscricao"}`)})
	f.reconciler.HandleNotification(ctx, Inbound{Body: []byte(`{"type":"payment"}`)})

	logs, err := f.reconciler.ListLogs(ctx, models.WebhookSourceMercadoPago, 0, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Greater(t, logs[0].ID, logs[1].ID)
}

func TestSweepCompletesLostNotifications(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()

	res, err := f.service.CreateCheckout(ctx, leaderCheckout([]string{"u-bia"}, []string{"r-1"}))
	require.NoError(t, err)
	f.provider.pay(res.ExternalReference, mercadopago.StatusApproved, mercadopago.StatusDetailAccredited)

	f.reconciler.now = func() time.Time { return time.Now().Add(time.Minute) }
	report, err := f.reconciler.Sweep(ctx, 0, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 0, report.ReleasedSeats)
	assert.True(t, f.roster.memberPaid("t-1", "u-bia"))
	assert.True(t, f.roster.robotPaid("r-1"))
	assert.Equal(t, int64(1), f.seats.Used())
}

func TestSweepAfterEarlyWebhookConverges(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()
	f.store.insertErr = errBoom

	// the checkout row is lost, so the webhook finds nothing pending
	res, err := f.service.CreateCheckout(ctx, leaderCheckout([]string{"u-bia", "u-caio"}, nil))
	require.NoError(t, err)
	pid := f.provider.pay(res.ExternalReference, mercadopago.StatusApproved, mercadopago.StatusDetailAccredited)
	f.reconciler.HandleNotification(ctx, paymentWebhook(pid))

	assert.True(t, f.roster.memberPaid("t-1", "u-bia"))
	assert.Equal(t, int64(2), f.seats.Used())

	// a late row for the same checkout is completed by the sweep and its hold returned
	f.store.insertErr = nil
	_, err = f.store.InsertPending(ctx, &models.PendingPayment{
		UserID: "u-leader", TeamID: "t-1", MemberIDs: []string{"u-bia", "u-caio"},
		ExternalReference: res.ExternalReference, HeldSeats: 2,
	})
	require.NoError(t, err)
	require.NoError(t, f.seats.Reserve(ctx, "members", 2))

	f.reconciler.now = func() time.Time { return time.Now().Add(time.Minute) }
	report, err := f.reconciler.Sweep(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, int64(2), f.seats.Used())
	assert.Equal(t, 2, f.roster.paidMembers())
}

func TestSweepReleasesExpiredHolds(t *testing.T) {
	f := newFixture(10, "")
	ctx := context.Background()

	res, err := f.service.CreateCheckout(ctx, leaderCheckout([]string{"u-bia", "u-caio"}, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.seats.Used())

	f.reconciler.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	report, err := f.reconciler.Sweep(ctx, 10*time.Minute, 2*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Completed)
	assert.Equal(t, 2, report.ReleasedSeats)
	assert.Equal(t, int64(0), f.seats.Used())
	row := f.store.pending(res.PendingPaymentID)
	assert.Equal(t, models.PaymentStatusPending, row.Status)
	assert.Equal(t, 0, row.HeldSeats)

	// a second pass finds nothing left to release
	report, err = f.reconciler.Sweep(ctx, 10*time.Minute, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, report.ReleasedSeats)
	assert.Equal(t, int64(0), f.seats.Used())
}
