package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/technovacao/registration/app/controllers"
	"github.com/technovacao/registration/internal/pkg/middleware"
)

// Options configures route protection.
type Options struct {
	JWTSecret string
	// RateLimit is the number of requests per minute allowed on /auth and
	// /payments. Zero disables limiting.
	RateLimit int
	// Storage holds limiter counters; nil selects Redis when reachable.
	Storage fiber.Storage
}

type ApiRouter struct {
	opts Options
}

func NewApiRouter(opts Options) *ApiRouter {
	return &ApiRouter{opts: opts}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	requireAuth := middleware.RequireAuth(h.opts.JWTSecret)
	limited := h.limiter()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	auth := app.Group("/auth", limited)
	auth.Post("/register", controllers.HandleRegister)
	auth.Post("/login", controllers.HandleLogin)
	auth.Post("/password/forgot", controllers.HandleForgotPassword)
	auth.Post("/password/reset", controllers.HandleResetPassword)
	auth.Get("/me", requireAuth, controllers.HandleMe)
	auth.Put("/accommodation", requireAuth, controllers.HandleAccommodation)

	teams := app.Group("/teams")
	teams.Get("/", controllers.HandleTeamList)
	teams.Post("/", requireAuth, controllers.HandleTeamCreate)
	teams.Get("/mine", requireAuth, controllers.HandleTeamMine)
	teams.Get("/:id/members", requireAuth, controllers.HandleTeamMembers)
	teams.Post("/:id/members", requireAuth, controllers.HandleTeamAddMember)
	teams.Delete("/:id/members/:userId", requireAuth, controllers.HandleTeamRemoveMember)
	teams.Get("/:id/robots", requireAuth, controllers.HandleTeamRobots)

	robots := app.Group("/robots")
	robots.Post("/", requireAuth, controllers.HandleRobotCreate)
	robots.Get("/category/:id", controllers.HandleRobotByCategory)

	app.Get("/categories", controllers.HandleCategoryList)

	pay := app.Group("/payments")
	pay.Get("/config", controllers.HandlePaymentConfig)
	pay.Get("/count", controllers.HandlePaymentCount)
	pay.Post("/checkout", limited, requireAuth, controllers.HandlePaymentCheckout)
	pay.Post("/process", limited, requireAuth, controllers.HandlePaymentProcess)
	pay.Get("/pending/:teamId", requireAuth, controllers.HandlePaymentPending)
}

func (h ApiRouter) limiter() fiber.Handler {
	if h.opts.RateLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	storage := h.opts.Storage
	if storage == nil {
		storage = rateLimiterStorage()
	}
	return newRateLimiter(h.opts.RateLimit, time.Minute, storage)
}

// WebhookRouter mounts the provider callbacks. They are never rate limited
// so provider retries are not refused.
type WebhookRouter struct {
	opts Options
}

func NewWebhookRouter(opts Options) *WebhookRouter {
	return &WebhookRouter{opts: opts}
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	webhook := app.Group("/webhook")
	webhook.Post("/mercadopago", controllers.HandleMercadoPagoWebhook)
	webhook.Post("/even3", controllers.HandleEven3Webhook)
	webhook.Get("/mercadopago/logs", middleware.RequireAuth(h.opts.JWTSecret), middleware.RequireAdmin, controllers.HandleWebhookLogs)
}
