package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/roamwire/roamwire/internal/pkg/middleware"
)

func (h ApiRouter) registerAdminRoutes(v1 fiber.Router) {
	adminGroup := v1.Group("/admin", middleware.AdminAPIKey(h.deps.Config.App.AdminAPIKey))
	adminGroup.Post("/orders/:transactionId/resend-activation", h.deps.Admin.HandleResendActivation)
}
