package controllers

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/payments"
)

// NotificationHandler is the part of payments.Reconciler the webhook uses.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, in payments.Inbound) payments.Ack
	ListLogs(ctx context.Context, source string, beforeID uint, limit int) ([]models.WebhookLog, error)
}

type WebhookController struct {
	reconciler NotificationHandler
}

func NewWebhookController(reconciler NotificationHandler) *WebhookController {
	return &WebhookController{reconciler: reconciler}
}

// HandleMercadoPago acknowledges every well-formed delivery with 200 so the
// provider stops retrying; only a bad signature is refused.
func (wc *WebhookController) HandleMercadoPago(c *fiber.Ctx) error {
	ack := wc.handle(c, models.WebhookSourceMercadoPago)
	if ack.Status == fiber.StatusUnauthorized {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "webhook signature does not match")
	}
	return c.Status(ack.Status).JSON(fiber.Map{"received": true})
}

func (wc *WebhookController) HandleEven3(c *fiber.Ctx) error {
	ack := wc.handle(c, models.WebhookSourceEven3)
	return c.Status(ack.Status).JSON(fiber.Map{"received": true})
}

func (wc *WebhookController) handle(c *fiber.Ctx, source string) payments.Ack {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	query, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		log.Warnf("[Webhook] Unparseable query string from %s: %v", c.IP(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return wc.reconciler.HandleNotification(ctx, payments.Inbound{
		Source:  source,
		Body:    rawBody,
		Headers: lowerHeaders(c),
		Query:   query,
	})
}

func (wc *WebhookController) HandleLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	before, _ := strconv.ParseUint(c.Query("before"), 10, 64)

	logs, err := wc.reconciler.ListLogs(c.UserContext(), strings.TrimSpace(c.Query("source")), uint(before), limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to list webhook logs")
	}
	if logs == nil {
		logs = []models.WebhookLog{}
	}
	return c.JSON(logs)
}

func lowerHeaders(c *fiber.Ctx) map[string]string {
	out := make(map[string]string)
	for k, v := range c.GetReqHeaders() {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}
