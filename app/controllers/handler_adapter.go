package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/technovacao/registration/app/repository"
	"github.com/technovacao/registration/internal/pkg/config"
	"github.com/technovacao/registration/internal/pkg/mail"
	"github.com/technovacao/registration/internal/pkg/media"
)

// Dependencies are the services shared by all handlers.
type Dependencies struct {
	Repos      *repository.Repositories
	Checkout   CheckoutService
	Capacity   CapacityChecker
	Reconciler NotificationHandler
	Uploader   media.Uploader
	Mailer     mail.Sender
	JWT        config.JWT
	Limits     config.Limits
	MP         config.MercadoPago
	CountTTL   time.Duration
}

// Global controller instances
var (
	authController     *AuthController
	teamController     *TeamController
	robotController    *RobotController
	categoryController *CategoryController
	paymentController  *PaymentController
	webhookController  *WebhookController
)

// InitializeControllers builds the global controllers used by the adapters below.
func InitializeControllers(deps Dependencies) {
	if deps.Repos == nil {
		deps.Repos = repository.GetGlobalRepositories()
	}
	if deps.Uploader == nil {
		deps.Uploader = media.NoopUploader{}
	}
	authController = NewAuthController(deps.Repos, deps.Uploader, deps.Mailer, deps.JWT, deps.MP.FrontendURL)
	teamController = NewTeamController(deps.Repos, deps.Uploader)
	robotController = NewRobotController(deps.Repos, deps.Uploader)
	categoryController = NewCategoryController(deps.Repos)
	paymentController = NewPaymentController(deps.Checkout, deps.Repos.Team, deps.Capacity, deps.Limits, deps.MP, deps.CountTTL)
	webhookController = NewWebhookController(deps.Reconciler)
}

// Adapter functions used by the router

func HandleRegister(c *fiber.Ctx) error       { return authController.HandleRegister(c) }
func HandleLogin(c *fiber.Ctx) error          { return authController.HandleLogin(c) }
func HandleMe(c *fiber.Ctx) error             { return authController.HandleMe(c) }
func HandleForgotPassword(c *fiber.Ctx) error { return authController.HandleForgotPassword(c) }
func HandleResetPassword(c *fiber.Ctx) error  { return authController.HandleResetPassword(c) }
func HandleAccommodation(c *fiber.Ctx) error  { return authController.HandleAccommodation(c) }

func HandleTeamCreate(c *fiber.Ctx) error       { return teamController.HandleCreate(c) }
func HandleTeamList(c *fiber.Ctx) error         { return teamController.HandleList(c) }
func HandleTeamMine(c *fiber.Ctx) error         { return teamController.HandleMine(c) }
func HandleTeamAddMember(c *fiber.Ctx) error    { return teamController.HandleAddMember(c) }
func HandleTeamRemoveMember(c *fiber.Ctx) error { return teamController.HandleRemoveMember(c) }
func HandleTeamMembers(c *fiber.Ctx) error      { return teamController.HandleMembers(c) }
func HandleTeamRobots(c *fiber.Ctx) error       { return teamController.HandleRobots(c) }

func HandleRobotCreate(c *fiber.Ctx) error     { return robotController.HandleCreate(c) }
func HandleRobotByCategory(c *fiber.Ctx) error { return robotController.HandleByCategory(c) }
func HandleCategoryList(c *fiber.Ctx) error    { return categoryController.HandleList(c) }

func HandlePaymentCheckout(c *fiber.Ctx) error { return paymentController.HandleCheckout(c) }
func HandlePaymentProcess(c *fiber.Ctx) error  { return paymentController.HandleProcess(c) }
func HandlePaymentConfig(c *fiber.Ctx) error   { return paymentController.HandleConfig(c) }
func HandlePaymentCount(c *fiber.Ctx) error    { return paymentController.HandleCount(c) }
func HandlePaymentPending(c *fiber.Ctx) error  { return paymentController.HandlePending(c) }

func HandleMercadoPagoWebhook(c *fiber.Ctx) error { return webhookController.HandleMercadoPago(c) }
func HandleEven3Webhook(c *fiber.Ctx) error       { return webhookController.HandleEven3(c) }
func HandleWebhookLogs(c *fiber.Ctx) error        { return webhookController.HandleLogs(c) }
