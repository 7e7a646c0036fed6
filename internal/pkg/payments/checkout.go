package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/capacity"
	"github.com/technovacao/registration/internal/pkg/config"
	"github.com/technovacao/registration/internal/pkg/mercadopago"
)

// Provider is the part of the payment gateway used here.
type Provider interface {
	CreatePreference(ctx context.Context, in mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
	CreatePayment(ctx context.Context, in mercadopago.PaymentRequest, idempotencyKey string) (*mercadopago.Payment, error)
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
	SearchByExternalReference(ctx context.Context, ref string) ([]mercadopago.Payment, error)
}

type CheckoutRequest struct {
	TeamID      string
	RequesterID string
	MemberIDs   []string
	RobotIDs    []string
}

type CheckoutResult struct {
	PendingPaymentID  uint
	PreferenceID      string
	PaymentURL        string
	SandboxURL        string
	ExternalReference string
	Quote             Quote
}

// ChargeRequest is the direct charge variant: card token or PIX.
type ChargeRequest struct {
	CheckoutRequest
	PaymentMethodID string
	Token           string
	Installments    int
	IssuerID        string
	Payer           *mercadopago.Payer
}

type ChargeResult struct {
	PendingPaymentID  uint
	ExternalReference string
	Payment           *mercadopago.Payment
	Quote             Quote
}

// Service creates checkouts. It never marks anything paid.
type Service struct {
	store      Store
	roster     Roster
	seats      Seats
	provider   Provider
	dispatcher Dispatcher
	pricing    config.Pricing
	mp         config.MercadoPago
	newRef     func() string
}

func NewService(store Store, roster Roster, seats Seats, provider Provider, pricing config.Pricing, mp config.MercadoPago) *Service {
	return &Service{
		store:    store,
		roster:   roster,
		seats:    seats,
		provider: provider,
		pricing:  pricing,
		mp:       mp,
		newRef:   uuid.NewString,
	}
}

// SetDispatcher lets approved direct charges be reconciled without waiting
// for the provider notification.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func (s *Service) Pricing() config.Pricing {
	return s.pricing
}

type order struct {
	team    *models.Team
	payer   *models.User
	members []Selected
	robots  []Selected
	quote   Quote
	ref     string
	meta    Metadata
}

// prepare validates the selection and reserves member seats. On success the
// caller owns len(members) reserved seats and must release them on failure.
func (s *Service) prepare(ctx context.Context, req CheckoutRequest) (*order, error) {
	memberIDs := uniqueIDs(req.MemberIDs)
	robotIDs := uniqueIDs(req.RobotIDs)
	if len(memberIDs) == 0 && len(robotIDs) == 0 {
		return nil, ErrEmptySelection
	}

	team, err := s.roster.Team(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	if team.LeaderID != req.RequesterID {
		return nil, ErrNotLeader
	}

	members, err := s.roster.SelectMembers(ctx, team.ID, memberIDs)
	if err != nil {
		return nil, err
	}
	robots, err := s.roster.SelectRobots(ctx, team.ID, robotIDs)
	if err != nil {
		return nil, err
	}
	if len(members) != len(memberIDs) || len(robots) != len(robotIDs) {
		return nil, ErrNotOwned
	}
	for _, sel := range append(append([]Selected{}, members...), robots...) {
		if sel.IsPaid {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyPaid, sel.Name)
		}
	}

	payer, err := s.roster.User(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}

	if err := s.seats.Reserve(ctx, capacity.Members, int64(len(members))); err != nil {
		return nil, err
	}

	return &order{
		team:    team,
		payer:   payer,
		members: members,
		robots:  robots,
		quote:   PriceOrder(s.pricing, members, robots),
		ref:     s.newRef(),
		meta: Metadata{
			TeamID:    team.ID,
			MemberIDs: memberIDs,
			RobotIDs:  robotIDs,
			UserID:    req.RequesterID,
		},
	}, nil
}

func (s *Service) releaseSeats(o *order) {
	if len(o.members) == 0 {
		return
	}
	// the request context may already be cancelled here
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.seats.Release(ctx, capacity.Members, int64(len(o.members))); err != nil {
		log.Errorf("[Checkout] Failed to release %d seats for team %s: %v", len(o.members), o.team.ID, err)
	}
}

// CreateCheckout prices the selection, opens a provider checkout and records
// the pending attempt before answering.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	o, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	pref, err := s.provider.CreatePreference(ctx, s.preferenceRequest(o))
	if err != nil {
		s.releaseSeats(o)
		log.Errorf("[Checkout] Provider rejected preference for team %s: %v", o.team.ID, err)
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	pendingID := s.recordPending(ctx, o, pref.ID, "")

	log.Infof("[Checkout] Preference %s created for team %s (members=%d robots=%d total=%.2f)",
		pref.ID, o.team.ID, len(o.members), len(o.robots), o.quote.Total())

	return &CheckoutResult{
		PendingPaymentID:  pendingID,
		PreferenceID:      pref.ID,
		PaymentURL:        pref.InitPoint,
		SandboxURL:        pref.SandboxInitPoint,
		ExternalReference: o.ref,
		Quote:             o.quote,
	}, nil
}

// ProcessPayment charges directly with a card token or PIX.
func (s *Service) ProcessPayment(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	method := strings.TrimSpace(req.PaymentMethodID)
	if method == "" {
		return nil, fmt.Errorf("%w: payment_method_id is required", ErrInvalidRequest)
	}
	if method != "pix" && strings.TrimSpace(req.Token) == "" {
		return nil, fmt.Errorf("%w: card token is required for %s", ErrInvalidRequest, method)
	}

	o, err := s.prepare(ctx, req.CheckoutRequest)
	if err != nil {
		return nil, err
	}

	installments := req.Installments
	if installments < 1 {
		installments = 1
	}
	payer := &mercadopago.Payer{Email: o.payer.Email, FirstName: o.payer.Name}
	if req.Payer != nil && strings.TrimSpace(req.Payer.Email) != "" {
		payer = req.Payer
	}

	payment, err := s.provider.CreatePayment(ctx, mercadopago.PaymentRequest{
		TransactionAmount:   o.quote.Total(),
		Description:         "Inscrição " + o.team.Name,
		PaymentMethodID:     method,
		Token:               strings.TrimSpace(req.Token),
		Installments:        installments,
		IssuerID:            strings.TrimSpace(req.IssuerID),
		Payer:               payer,
		ExternalReference:   o.ref,
		NotificationURL:     s.notificationURL(),
		StatementDescriptor: s.mp.StatementDescriptor,
		Metadata:            o.meta,
	}, o.ref)
	if err != nil {
		s.releaseSeats(o)
		log.Errorf("[Checkout] Provider rejected direct charge for team %s: %v", o.team.ID, err)
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	pendingID := s.recordPending(ctx, o, "", payment.IDString())

	log.Infof("[Checkout] Direct charge %s for team %s status=%s/%s", payment.IDString(), o.team.ID, payment.Status, payment.StatusDetail)

	if payment.IsApproved() && s.dispatcher != nil {
		task := Task{Kind: TaskPayment, PaymentID: payment.IDString()}
		if err := s.dispatcher.Dispatch(ctx, task); err != nil {
			log.Warnf("[Checkout] Could not dispatch reconciliation of %s: %v", task.PaymentID, err)
		}
	}

	return &ChargeResult{
		PendingPaymentID:  pendingID,
		ExternalReference: o.ref,
		Payment:           payment,
		Quote:             o.quote,
	}, nil
}

// ListPending returns the open attempts of a team, visible to its leader.
func (s *Service) ListPending(ctx context.Context, teamID, requesterID string) ([]models.PendingPayment, error) {
	team, err := s.roster.Team(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.LeaderID != requesterID {
		return nil, ErrNotLeader
	}
	return s.store.ListPendingForTeam(ctx, teamID, "")
}

// recordPending stores the attempt. A storage failure is logged and the
// checkout still answers; the held seats are returned since no row tracks them.
func (s *Service) recordPending(ctx context.Context, o *order, preferenceID, paymentID string) uint {
	row := &models.PendingPayment{
		UserID:            o.meta.UserID,
		TeamID:            o.team.ID,
		MemberIDs:         o.meta.MemberIDs,
		RobotIDs:          o.meta.RobotIDs,
		AmountCents:       o.quote.TotalCents,
		Currency:          o.quote.Currency,
		PreferenceID:      preferenceID,
		ProviderPaymentID: paymentID,
		ExternalReference: o.ref,
		Status:            models.PaymentStatusPending,
		HeldSeats:         len(o.members),
	}
	id, err := s.store.InsertPending(ctx, row)
	if err != nil {
		log.Errorf("[Checkout] Failed to store pending payment %s for team %s: %v", o.ref, o.team.ID, err)
		s.releaseSeats(o)
		return 0
	}
	return id
}

func (s *Service) preferenceRequest(o *order) mercadopago.PreferenceRequest {
	items := make([]mercadopago.Item, 0, len(o.quote.Items))
	for _, it := range o.quote.Items {
		items = append(items, mercadopago.Item{
			ID:         it.ID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			CurrencyID: o.quote.Currency,
		})
	}
	front := s.mp.FrontendURL
	return mercadopago.PreferenceRequest{
		Items:          items,
		Payer:          &mercadopago.Payer{Email: o.payer.Email, Name: o.payer.Name},
		PaymentMethods: &mercadopago.PaymentMethods{Installments: 1},
		BackURLs: mercadopago.BackURLs{
			Success: front + "/app.html?payment=success",
			Failure: front + "/app.html?payment=failure",
			Pending: front + "/app.html?payment=pending",
		},
		AutoReturn:          "approved",
		NotificationURL:     s.notificationURL(),
		StatementDescriptor: s.mp.StatementDescriptor,
		ExternalReference:   o.ref,
		Metadata:            o.meta,
	}
}

func (s *Service) notificationURL() string {
	if s.mp.BackendURL == "" {
		return ""
	}
	return s.mp.BackendURL + "/webhook/mercadopago"
}

// IsNotFound reports whether err means the team or user does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
