package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/cache"
	"github.com/technovacao/registration/internal/pkg/capacity"
	"github.com/technovacao/registration/internal/pkg/config"
	"github.com/technovacao/registration/internal/pkg/mercadopago"
	"github.com/technovacao/registration/internal/pkg/payments"
	"github.com/technovacao/registration/internal/pkg/usercontext"
)

const paidCountCacheKey = "payments:paid_count"

// CheckoutService is the part of payments.Service the handlers use.
type CheckoutService interface {
	CreateCheckout(ctx context.Context, req payments.CheckoutRequest) (*payments.CheckoutResult, error)
	ProcessPayment(ctx context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error)
	ListPending(ctx context.Context, teamID, requesterID string) ([]models.PendingPayment, error)
	Pricing() config.Pricing
}

// PaidCounter reports how many members have paid.
type PaidCounter interface {
	CountPaidMembers() (int64, error)
}

// CapacityChecker answers read-only ceiling questions.
type CapacityChecker interface {
	Check(ctx context.Context, kind capacity.Kind, requested int64) (capacity.Decision, error)
}

type checkoutRequest struct {
	TeamID    string   `json:"teamId" validate:"required"`
	MemberIDs []string `json:"memberIds"`
	RobotIDs  []string `json:"robotIds"`
}

// payerRequest follows the provider's card form, which posts snake_case
// names. name is the single-field form some clients send instead.
type payerRequest struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Identification *struct {
		Type   string `json:"type"`
		Number string `json:"number"`
	} `json:"identification"`
}

type processRequest struct {
	checkoutRequest
	PaymentMethodID string        `json:"payment_method_id" validate:"required"`
	Token           string        `json:"token"`
	Installments    int           `json:"installments" validate:"gte=0,lte=12"`
	IssuerID        string        `json:"issuer_id"`
	Payer           *payerRequest `json:"payer"`
}

type PaymentController struct {
	service  CheckoutService
	counter  PaidCounter
	seats    CapacityChecker
	limits   config.Limits
	mp       config.MercadoPago
	cacheTTL time.Duration
}

// NewPaymentController creates the handlers. A zero cacheTTL disables the
// paid count cache. seats may be nil, remaining is then derived from the paid
// count alone.
func NewPaymentController(service CheckoutService, counter PaidCounter, seats CapacityChecker, limits config.Limits, mp config.MercadoPago, cacheTTL time.Duration) *PaymentController {
	return &PaymentController{
		service:  service,
		counter:  counter,
		seats:    seats,
		limits:   limits,
		mp:       mp,
		cacheTTL: cacheTTL,
	}
}

func (pc *PaymentController) HandleCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	res, err := pc.service.CreateCheckout(c.UserContext(), payments.CheckoutRequest{
		TeamID:      req.TeamID,
		RequesterID: usercontext.GetUserID(c),
		MemberIDs:   req.MemberIDs,
		RobotIDs:    req.RobotIDs,
	})
	if err != nil {
		return paymentError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"preferenceId":     res.PreferenceID,
		"paymentUrl":       res.PaymentURL,
		"total":            res.Quote.Total(),
		"items":            res.Quote.Items,
		"pendingPaymentId": res.PendingPaymentID,
	})
}

func (pc *PaymentController) HandleProcess(c *fiber.Ctx) error {
	var req processRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	charge := payments.ChargeRequest{
		CheckoutRequest: payments.CheckoutRequest{
			TeamID:      req.TeamID,
			RequesterID: usercontext.GetUserID(c),
			MemberIDs:   req.MemberIDs,
			RobotIDs:    req.RobotIDs,
		},
		PaymentMethodID: req.PaymentMethodID,
		Token:           req.Token,
		Installments:    req.Installments,
		IssuerID:        req.IssuerID,
	}
	if req.Payer != nil {
		charge.Payer = req.Payer.toProvider()
	}

	res, err := pc.service.ProcessPayment(c.UserContext(), charge)
	if err != nil {
		return paymentError(c, err)
	}

	payment := fiber.Map{
		"id":            res.Payment.IDString(),
		"status":        res.Payment.Status,
		"status_detail": res.Payment.StatusDetail,
	}
	if pix := res.Payment.PixData(); pix != nil {
		payment["pix"] = fiber.Map{
			"qr_code":        pix.QRCode,
			"qr_code_base64": pix.QRCodeBase64,
			"ticket_url":     pix.TicketURL,
		}
	}
	return c.JSON(fiber.Map{
		"success":          true,
		"payment":          payment,
		"total":            res.Quote.Total(),
		"pendingPaymentId": res.PendingPaymentID,
	})
}

func (p *payerRequest) toProvider() *mercadopago.Payer {
	payer := &mercadopago.Payer{
		Email:     strings.TrimSpace(p.Email),
		Name:      strings.TrimSpace(p.Name),
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
	}
	if payer.FirstName == "" && payer.Name != "" {
		first, last, _ := strings.Cut(payer.Name, " ")
		payer.FirstName = first
		if payer.LastName == "" {
			payer.LastName = strings.TrimSpace(last)
		}
	}
	if p.Identification != nil {
		payer.Identification = &mercadopago.Identification{
			Type:   p.Identification.Type,
			Number: p.Identification.Number,
		}
	}
	return payer
}

func (pc *PaymentController) HandleConfig(c *fiber.Ctx) error {
	p := pc.service.Pricing()
	return c.JSON(fiber.Map{
		"mercadoPagoPublicKey": pc.mp.PublicKey,
		"priceMember":          config.FormatCents(p.MemberCents),
		"priceRobot":           config.FormatCents(p.RobotCents),
	})
}

type paidCount struct {
	Count     int64 `json:"count"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

func (pc *PaymentController) HandleCount(c *fiber.Ctx) error {
	var out paidCount
	if pc.cacheTTL > 0 {
		if err := cache.GetJSON(paidCountCacheKey, &out); err == nil {
			return c.JSON(out)
		}
	}

	n, err := pc.counter.CountPaidMembers()
	if err != nil {
		log.Errorf("[Payments] Failed to count paid members: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to count payments")
	}
	out = paidCount{Count: n, Limit: int64(pc.limits.MaxPaidMembers)}
	if out.Limit > 0 {
		out.Remaining = max(out.Limit-n, 0)
	}
	// held seats of open checkouts are not paid yet but already taken
	if pc.seats != nil {
		d, err := pc.seats.Check(c.UserContext(), capacity.Members, 0)
		if err != nil {
			log.Warnf("[Payments] Capacity check failed, using paid count: %v", err)
		} else if !d.Unlimited {
			out.Limit = d.Limit
			out.Remaining = d.Remaining
		}
	}

	if pc.cacheTTL > 0 {
		if err := cache.SetJSON(paidCountCacheKey, out, pc.cacheTTL); err != nil {
			log.Debugf("[Payments] Could not cache paid count: %v", err)
		}
	}
	return c.JSON(out)
}

func (pc *PaymentController) HandlePending(c *fiber.Ctx) error {
	rows, err := pc.service.ListPending(c.UserContext(), c.Params("teamId"), usercontext.GetUserID(c))
	if err != nil {
		return paymentError(c, err)
	}
	if rows == nil {
		rows = []models.PendingPayment{}
	}
	return c.JSON(rows)
}

// paymentError maps checkout errors to HTTP answers.
func paymentError(c *fiber.Ctx, err error) error {
	if handled, rerr := capacityError(c, err); handled {
		return rerr
	}
	switch {
	case errors.Is(err, payments.ErrEmptySelection),
		errors.Is(err, payments.ErrInvalidRequest),
		errors.Is(err, payments.ErrNotOwned),
		errors.Is(err, payments.ErrAlreadyPaid):
		return jsonError(c, fiber.StatusBadRequest, "invalid_selection", err.Error())
	case errors.Is(err, payments.ErrNotLeader):
		return jsonError(c, fiber.StatusForbidden, "not_leader", err.Error())
	case payments.IsNotFound(err):
		return jsonError(c, fiber.StatusNotFound, "not_found", "team or user not found")
	case errors.Is(err, payments.ErrProvider):
		detail := err.Error()
		var apiErr *mercadopago.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			detail = apiErr.Message
		}
		body := errorBody("provider_error", "payment provider rejected the request")
		body["detail"] = detail
		return c.Status(fiber.StatusBadGateway).JSON(body)
	default:
		log.Errorf("[Payments] Unexpected checkout error: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not create the payment")
	}
}
