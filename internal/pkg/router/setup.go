package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/roamwire/roamwire/app/controllers"
	"github.com/roamwire/roamwire/internal/pkg/config"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and settings the routers mount.
type Dependencies struct {
	Config   config.Config
	Cache    *redis.Client
	Webhooks *controllers.WebhookController
	Checkout *controllers.CheckoutController
	Orders   *controllers.OrderController
	Admin    *controllers.AdminOrderController
	Health   *controllers.HealthController
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// Webhooks and probes first so the API limiter never sees them.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
