package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/roamwire/roamwire/internal/pkg/checkout"
)

type CheckoutService interface {
	CreatePaymentAttempt(ctx context.Context, req checkout.Request) (*checkout.PaymentAttempt, error)
	Preview(ctx context.Context, req checkout.PreviewRequest) (*checkout.Preview, error)
}

type CheckoutController struct {
	service CheckoutService
}

func NewCheckoutController(service CheckoutService) *CheckoutController {
	return &CheckoutController{service: service}
}

// HandleCreateCheckout serves POST /api/v1/checkout.
func (cc *CheckoutController) HandleCreateCheckout(c *fiber.Ctx) error {
	var req checkout.Request
	if err := bindJSON(c, &req); err != nil {
		return renderError(c, err)
	}

	attempt, err := cc.service.CreatePaymentAttempt(c.UserContext(), req)
	if err != nil {
		return renderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(attempt)
}

// HandleValidateDiscount serves POST /api/v1/discounts/validate. Nothing is reserved.
func (cc *CheckoutController) HandleValidateDiscount(c *fiber.Ctx) error {
	var req checkout.PreviewRequest
	if err := bindJSON(c, &req); err != nil {
		return renderError(c, err)
	}

	preview, err := cc.service.Preview(c.UserContext(), req)
	if err != nil {
		return renderError(c, err)
	}
	return c.JSON(preview)
}
