package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	flog "github.com/gofiber/fiber/v2/log"

	"github.com/technovacao/registration/app/controllers"
	"github.com/technovacao/registration/app/repository"
	"github.com/technovacao/registration/internal/pkg/cache"
	"github.com/technovacao/registration/internal/pkg/capacity"
	"github.com/technovacao/registration/internal/pkg/config"
	"github.com/technovacao/registration/internal/pkg/database"
	"github.com/technovacao/registration/internal/pkg/env"
	"github.com/technovacao/registration/internal/pkg/even3"
	"github.com/technovacao/registration/internal/pkg/jobqueue"
	"github.com/technovacao/registration/internal/pkg/mail"
	"github.com/technovacao/registration/internal/pkg/media"
	"github.com/technovacao/registration/internal/pkg/mercadopago"
	"github.com/technovacao/registration/internal/pkg/payments"
	"github.com/technovacao/registration/internal/pkg/router"
)

func main() {
	app, shutdown := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "3000")))
	shutdown()
	if err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires storage, payment services and routes. The returned
// function stops the background workers.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	if env.IsDev() {
		flog.SetLevel(flog.LevelDebug)
	} else {
		flog.SetLevel(flog.LevelInfo)
	}
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	limits := config.LoadLimits()
	mpCfg := config.LoadMercadoPago()
	reconcileCfg := config.LoadReconcile()
	jwtCfg := config.LoadJWT()
	if jwtCfg.Secret == "" {
		panic("JWT_SECRET must be set")
	}

	guard := capacity.NewGuard(db, limits)
	repository.InitializeFactory(db, guard)
	repos := repository.GetGlobalRepositories()

	store := payments.NewStore(db)
	roster := payments.NewRoster(db, guard)
	provider := mercadopago.NewClient(mpCfg)
	service := payments.NewService(store, roster, guard, provider, config.LoadPricing(), mpCfg)
	reconciler := payments.NewReconciler(store, roster, guard, provider, even3.NewClient(config.LoadEven3()), mpCfg.WebhookSecret)

	var queue *jobqueue.Queue
	var dispatcher payments.Dispatcher
	var async *payments.AsyncDispatcher
	if cache.Available(2 * time.Second) {
		queue = jobqueue.NewQueue(cache.GetClient(), reconciler, reconcileCfg.Workers, reconcileCfg.FetchTimeout)
		dispatcher = jobqueue.NewDispatcher(queue, reconcileCfg.SettleDelay)
	} else {
		flog.Warn("[Main] Redis unavailable, webhook reconciliation runs in-process")
		async = payments.NewAsyncDispatcher(reconciler, reconcileCfg.SettleDelay, reconcileCfg.FetchTimeout)
		dispatcher = async
	}
	service.SetDispatcher(dispatcher)
	reconciler.SetDispatcher(dispatcher)

	manager := jobqueue.NewManager(queue, reconciler, reconcileCfg)
	manager.Start()

	var uploader media.Uploader = media.NoopUploader{}
	mediaCfg := config.LoadMedia()
	if mediaCfg.Enabled {
		s3, err := media.NewS3Uploader(context.Background(), mediaCfg)
		if err != nil {
			panic(err)
		}
		uploader = s3
	}

	controllers.InitializeControllers(controllers.Dependencies{
		Repos:      repos,
		Checkout:   service,
		Capacity:   guard,
		Reconciler: reconciler,
		Uploader:   uploader,
		Mailer:     mail.NewSMTPMailer(config.LoadMail()),
		JWT:        jwtCfg,
		Limits:     limits,
		MP:         mpCfg,
		CountTTL:   env.GetEnvDuration("PAID_COUNT_CACHE_TTL", 30*time.Second),
	})

	app := fiber.New(fiber.Config{
		BodyLimit: int(mediaCfg.MaxUploadBytes) + 1<<20,
	})

	// recovery and logging
	app.Use(recover.New(recover.Config{EnableStackTrace: env.IsDev()}), logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: env.GetEnv("CORS_ALLOW_ORIGINS", mpCfg.FrontendURL),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	// fiber metrics
	if pass := env.GetEnv("METRICS_PASSWORD", ""); pass != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{"admin": pass},
		}), monitor.New())
	}

	// SWAGGER / OPENAPI
	openAPIFile := env.GetEnv("OPENAPI_FILE", "./docs/openapi.yml")
	if _, err := os.Stat(openAPIFile); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/",
			FilePath: openAPIFile,
			Path:     "docs",
		}))
	} else {
		flog.Warnf("[Main] OpenAPI document not found at %s, /docs disabled", openAPIFile)
	}

	// ROUTER
	router.InstallRouter(app, router.Options{
		JWTSecret: jwtCfg.Secret,
		RateLimit: env.GetEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	})

	shutdown := func() {
		manager.Stop()
		if async != nil {
			async.Close()
		}
	}
	return app, shutdown
}
