package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/capacity"
	"github.com/technovacao/registration/internal/pkg/config"
	"github.com/technovacao/registration/internal/pkg/mercadopago"
)

var testPricing = config.Pricing{MemberCents: 5500, RobotCents: 2000, Currency: "BRL"}

var testMP = config.MercadoPago{
	StatementDescriptor: "TECHNOVACAO",
	FrontendURL:         "https://front.test",
	BackendURL:          "https://api.test",
}

// fakeStore is an in-memory Store with the same conditional completion rule.
type fakeStore struct {
	mu        sync.Mutex
	nextID    uint
	rows      map[uint]*models.PendingPayment
	logs      []models.WebhookLog
	insertErr error
	now       func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[uint]*models.PendingPayment{}, now: time.Now}
}

func (s *fakeStore) InsertPending(_ context.Context, p *models.PendingPayment) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.nextID++
	cp := *p
	cp.ID = s.nextID
	if cp.Status == "" {
		cp.Status = models.PaymentStatusPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.rows[cp.ID] = &cp
	return cp.ID, nil
}

func (s *fakeStore) complete(providerPaymentID string, match func(*models.PendingPayment) bool) (Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		row := s.rows[id]
		if row.Status != models.PaymentStatusPending || !match(row) {
			continue
		}
		now := s.now()
		out := Completion{RowsAffected: 1, PendingID: row.ID, HeldSeats: row.HeldSeats}
		row.Status = models.PaymentStatusCompleted
		row.CompletedAt = &now
		row.HeldSeats = 0
		if row.ProviderPaymentID == "" {
			row.ProviderPaymentID = providerPaymentID
		}
		return out, nil
	}
	return Completion{}, nil
}

func (s *fakeStore) MarkCompletedByProviderID(_ context.Context, pid string) (Completion, error) {
	if pid == "" {
		return Completion{}, nil
	}
	return s.complete(pid, func(p *models.PendingPayment) bool { return p.ProviderPaymentID == pid })
}

func (s *fakeStore) MarkCompletedByExternalReference(_ context.Context, ref, pid string) (Completion, error) {
	if ref == "" {
		return Completion{}, nil
	}
	return s.complete(pid, func(p *models.PendingPayment) bool { return p.ExternalReference == ref })
}

func (s *fakeStore) MarkCompletedByTeamUser(_ context.Context, teamID, userID, pid string) (Completion, error) {
	if teamID == "" || userID == "" {
		return Completion{}, nil
	}
	return s.complete(pid, func(p *models.PendingPayment) bool { return p.TeamID == teamID && p.UserID == userID })
}

func (s *fakeStore) ListPendingForTeam(_ context.Context, teamID, userID string) ([]models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PendingPayment
	for _, row := range s.rows {
		if row.TeamID == teamID && row.Status == models.PaymentStatusPending && (userID == "" || row.UserID == userID) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *fakeStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PendingPayment
	for _, row := range s.rows {
		if row.Status == models.PaymentStatusPending && row.CreatedAt.Before(before) {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) ClearHold(_ context.Context, id uint, seats int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != models.PaymentStatusPending || row.HeldSeats != seats {
		return false, nil
	}
	row.HeldSeats = 0
	return true, nil
}

func (s *fakeStore) AppendWebhookLog(_ context.Context, entry *models.WebhookLog) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uint(len(s.logs) + 1)
	s.logs = append(s.logs, *entry)
	return entry.ID, nil
}

func (s *fakeStore) ListWebhookLogs(_ context.Context, source string, beforeID uint, limit int) ([]models.WebhookLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WebhookLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if (source == "" || l.Source == source) && (beforeID == 0 || l.ID < beforeID) {
			out = append(out, l)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) pending(id uint) models.PendingPayment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rows[id]
}

func (s *fakeStore) logCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

// fakeSeats is the members ceiling as a mutex-guarded counter.
type fakeSeats struct {
	mu    sync.Mutex
	used  int64
	limit int64
}

func (f *fakeSeats) Reserve(_ context.Context, kind capacity.Kind, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 {
		return nil
	}
	if f.limit > 0 && f.used+n > f.limit {
		return &capacity.CapacityError{Kind: kind, Requested: n, Remaining: f.limit - f.used}
	}
	f.used += n
	return nil
}

func (f *fakeSeats) Release(_ context.Context, _ capacity.Kind, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used -= n
	if f.used < 0 {
		f.used = 0
	}
	return nil
}

func (f *fakeSeats) Used() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used
}

type fakeMember struct {
	user *models.User
	paid bool
}

type fakeRobot struct {
	teamID string
	name   string
	paid   bool
}

// fakeRoster keeps teams in memory and settles member payments against seats
// the way the GORM roster does inside its transaction.
type fakeRoster struct {
	mu         sync.Mutex
	seats      *fakeSeats
	teams      map[string]*models.Team
	users      map[string]*models.User
	members    map[string]map[string]*fakeMember
	robots     map[string]*fakeRobot
	membersErr error
}

func newFakeRoster(seats *fakeSeats) *fakeRoster {
	return &fakeRoster{
		seats:   seats,
		teams:   map[string]*models.Team{},
		users:   map[string]*models.User{},
		members: map[string]map[string]*fakeMember{},
		robots:  map[string]*fakeRobot{},
	}
}

func (r *fakeRoster) addUser(id, name, email string) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := &models.User{ID: id, Name: name, Email: email, Role: models.ROLE_USER}
	r.users[id] = u
	return u
}

func (r *fakeRoster) addTeam(id, name, leaderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[id] = &models.Team{ID: id, Name: name, LeaderID: leaderID}
	r.members[id] = map[string]*fakeMember{leaderID: {user: r.users[leaderID]}}
}

func (r *fakeRoster) addMember(teamID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[teamID][userID] = &fakeMember{user: r.users[userID]}
}

func (r *fakeRoster) addRobot(teamID, id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.robots[id] = &fakeRobot{teamID: teamID, name: name}
}

func (r *fakeRoster) memberPaid(teamID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[teamID][userID].paid
}

func (r *fakeRoster) robotPaid(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.robots[id].paid
}

func (r *fakeRoster) paidMembers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, team := range r.members {
		for _, m := range team {
			if m.paid {
				n++
			}
		}
	}
	return n
}

func (r *fakeRoster) Team(_ context.Context, teamID string) (*models.Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.teams[teamID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRoster) User(_ context.Context, userID string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeRoster) SelectMembers(_ context.Context, teamID string, ids []string) ([]Selected, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Selected
	for _, id := range ids {
		if m, ok := r.members[teamID][id]; ok {
			out = append(out, Selected{ID: id, Name: m.user.Name, Email: m.user.Email, IsPaid: m.paid})
		}
	}
	return out, nil
}

func (r *fakeRoster) SelectRobots(_ context.Context, teamID string, ids []string) ([]Selected, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Selected
	for _, id := range ids {
		if rb, ok := r.robots[id]; ok && rb.teamID == teamID {
			out = append(out, Selected{ID: id, Name: rb.name, IsPaid: rb.paid})
		}
	}
	return out, nil
}

func (r *fakeRoster) settle(flip []*fakeMember, heldSeats int) (int64, error) {
	diff := int64(len(flip)) - int64(heldSeats)
	switch {
	case diff > 0:
		if err := r.seats.Reserve(context.Background(), capacity.Members, diff); err != nil {
			return 0, err
		}
	case diff < 0:
		_ = r.seats.Release(context.Background(), capacity.Members, -diff)
	}
	for _, m := range flip {
		m.paid = true
	}
	return int64(len(flip)), nil
}

func (r *fakeRoster) MarkMembersPaid(_ context.Context, teamID string, ids []string, heldSeats int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.membersErr != nil {
		return 0, r.membersErr
	}
	var flip []*fakeMember
	for _, id := range ids {
		if m, ok := r.members[teamID][id]; ok && !m.paid {
			flip = append(flip, m)
		}
	}
	return r.settle(flip, heldSeats)
}

func (r *fakeRoster) MarkMembersPaidByEmail(_ context.Context, email string, heldSeats int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.membersErr != nil {
		return 0, r.membersErr
	}
	var flip []*fakeMember
	for _, team := range r.members {
		for _, m := range team {
			if m.user.Email == models.NormalizeEmail(email) && !m.paid {
				flip = append(flip, m)
			}
		}
	}
	return r.settle(flip, heldSeats)
}

func (r *fakeRoster) MarkRobotsPaid(_ context.Context, teamID string, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if rb, ok := r.robots[id]; ok && rb.teamID == teamID && !rb.paid {
			rb.paid = true
			n++
		}
	}
	return n, nil
}

// fakeProvider records checkouts and serves payments approved by the test.
type fakeProvider struct {
	mu          sync.Mutex
	nextID      int64
	preferences map[string]mercadopago.PreferenceRequest
	charges     []mercadopago.PaymentRequest
	payments    map[string]*mercadopago.Payment
	prefErr     error
	chargeState [2]string
	getErr      error
	getCalls    int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		nextID:      9000,
		preferences: map[string]mercadopago.PreferenceRequest{},
		payments:    map[string]*mercadopago.Payment{},
		chargeState: [2]string{mercadopago.StatusPending, "pending_waiting_transfer"},
	}
}

func (p *fakeProvider) CreatePreference(_ context.Context, in mercadopago.PreferenceRequest) (*mercadopago.Preference, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prefErr != nil {
		return nil, p.prefErr
	}
	p.preferences[in.ExternalReference] = in
	id := "pref-" + in.ExternalReference
	return &mercadopago.Preference{ID: id, InitPoint: "https://mp.test/checkout/" + id, ExternalReference: in.ExternalReference}, nil
}

func (p *fakeProvider) CreatePayment(_ context.Context, in mercadopago.PaymentRequest, _ string) (*mercadopago.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.charges = append(p.charges, in)
	p.nextID++
	meta, _ := json.Marshal(in.Metadata)
	payment := &mercadopago.Payment{
		ID:                p.nextID,
		Status:            p.chargeState[0],
		StatusDetail:      p.chargeState[1],
		ExternalReference: in.ExternalReference,
		TransactionAmount: in.TransactionAmount,
		PaymentMethodID:   in.PaymentMethodID,
		Metadata:          meta,
	}
	if in.Payer != nil {
		payment.Payer = *in.Payer
	}
	if in.PaymentMethodID == "pix" {
		payment.PointOfInteraction = &mercadopago.PointOfInteraction{
			TransactionData: &mercadopago.TransactionData{QRCode: "000201pix", QRCodeBase64: "aW1n"},
		}
	}
	p.payments[payment.IDString()] = payment
	cp := *payment
	return &cp, nil
}

func (p *fakeProvider) GetPayment(_ context.Context, id string) (*mercadopago.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	if p.getErr != nil {
		return nil, p.getErr
	}
	payment, ok := p.payments[id]
	if !ok {
		return nil, &mercadopago.APIError{StatusCode: 404, Message: "Payment not found"}
	}
	cp := *payment
	return &cp, nil
}

func (p *fakeProvider) SearchByExternalReference(_ context.Context, ref string) ([]mercadopago.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []mercadopago.Payment
	for _, payment := range p.payments {
		if payment.ExternalReference == ref {
			out = append(out, *payment)
		}
	}
	return out, nil
}

// pay simulates the buyer completing the checkout of ref and returns the
// provider payment id.
func (p *fakeProvider) pay(ref, status, detail string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	pref, ok := p.preferences[ref]
	if !ok {
		panic("no preference for " + ref)
	}
	p.nextID++
	meta, _ := json.Marshal(pref.Metadata)
	payment := &mercadopago.Payment{
		ID:                p.nextID,
		Status:            status,
		StatusDetail:      detail,
		ExternalReference: ref,
		Metadata:          meta,
	}
	if pref.Payer != nil {
		payment.Payer = mercadopago.Payer{Email: pref.Payer.Email}
	}
	p.payments[payment.IDString()] = payment
	return payment.IDString()
}

func (p *fakeProvider) addPayment(payment *mercadopago.Payment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments[payment.IDString()] = payment
}

// inlineDispatcher runs tasks synchronously so tests can assert afterwards.
type inlineDispatcher struct {
	mu       sync.Mutex
	runner   Runner
	tasks    []Task
	outcomes []*Outcome
	errs     []error
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, task Task) error {
	d.mu.Lock()
	d.tasks = append(d.tasks, task)
	d.mu.Unlock()
	if d.runner == nil {
		return nil
	}
	out, err := d.runner.Run(ctx, task)
	d.mu.Lock()
	d.outcomes = append(d.outcomes, out)
	d.errs = append(d.errs, err)
	d.mu.Unlock()
	return nil
}

type fakeSales struct {
	paid map[string]bool
	err  error
}

func (f *fakeSales) HasPaidSale(_ context.Context, email string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.paid[email], nil
}

var errBoom = errors.New("boom")

// fixture wires a service and a reconciler around one team with a leader,
// two members and two robots.
type fixture struct {
	store      *fakeStore
	seats      *fakeSeats
	roster     *fakeRoster
	provider   *fakeProvider
	sales      *fakeSales
	service    *Service
	reconciler *Reconciler
	dispatcher *inlineDispatcher
}

func newFixture(limit int64, secret string) *fixture {
	f := &fixture{
		store:    newFakeStore(),
		seats:    &fakeSeats{limit: limit},
		provider: newFakeProvider(),
		sales:    &fakeSales{paid: map[string]bool{}},
	}
	f.roster = newFakeRoster(f.seats)
	f.roster.addUser("u-leader", "Ana Leader", "ana@example.com")
	f.roster.addUser("u-bia", "Bia Member", "bia@example.com")
	f.roster.addUser("u-caio", "Caio Member", "caio@example.com")
	f.roster.addUser("u-other", "Outsider", "out@example.com")
	f.roster.addTeam("t-1", "Robo Team", "u-leader")
	f.roster.addMember("t-1", "u-bia")
	f.roster.addMember("t-1", "u-caio")
	f.roster.addRobot("t-1", "r-1", "Sumo Bot")
	f.roster.addRobot("t-1", "r-2", "Line Bot")

	f.service = NewService(f.store, f.roster, f.seats, f.provider, testPricing, testMP)
	f.reconciler = NewReconciler(f.store, f.roster, f.seats, f.provider, f.sales, secret)
	f.dispatcher = &inlineDispatcher{runner: f.reconciler}
	f.reconciler.SetDispatcher(f.dispatcher)
	f.service.SetDispatcher(f.dispatcher)
	return f
}
