package router

import (
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the public API and the provider webhooks.
func InstallRouter(app *fiber.App, opts Options) {
	setup(app, NewApiRouter(opts), NewWebhookRouter(opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
