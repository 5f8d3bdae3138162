package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	checkoutLimit := limiter.New(limiter.Config{
		Max:        h.deps.Config.Checkout.RateLimitMax,
		Expiration: h.deps.Config.Checkout.RateLimitWindow,
		Storage:    limiterStorage(h.deps.Cache),
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests, try again shortly"})
		},
	})
	v1.Post("/checkout", checkoutLimit, h.deps.Checkout.HandleCreateCheckout)
	v1.Post("/discounts/validate", checkoutLimit, h.deps.Checkout.HandleValidateDiscount)
	v1.Get("/orders/:transactionId", h.deps.Orders.HandleGetOrder)

	h.registerAdminRoutes(v1)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
