package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/roamwire/roamwire/internal/pkg/metrics"
)

// HttpRouter mounts the endpoints that are not part of the public API:
// vendor webhooks, liveness and metrics.
type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	webhooks := app.Group("/webhooks")
	webhooks.Post("/payments", h.deps.Webhooks.HandlePaymentWebhook)
	webhooks.Post("/provisioning", h.deps.Webhooks.HandleProvisioningWebhook)

	app.Get("/health", h.deps.Health.HandleHealth)

	// Metrics are only exposed when credentials are configured.
	if creds := h.deps.Config.Metrics; creds.Username != "" && creds.Password != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				creds.Username: creds.Password,
			},
		}), metrics.Handler())
	}
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
