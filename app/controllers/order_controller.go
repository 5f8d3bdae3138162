package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
)

type OrderReader interface {
	Get(ctx context.Context, transactionID string) (*models.Order, error)
}

// ActivationResender re-sends the activation email of a fulfilled order.
type ActivationResender interface {
	ResendActivation(ctx context.Context, transactionID string, force bool) (string, error)
}

type OrderController struct {
	orders OrderReader
}

func NewOrderController(orders OrderReader) *OrderController {
	return &OrderController{orders: orders}
}

// HandleGetOrder serves GET /api/v1/orders/:transactionId. It reports the
// last committed status; there is no in-flight state.
func (oc *OrderController) HandleGetOrder(c *fiber.Ctx) error {
	transactionID := strings.TrimSpace(c.Params("transactionId"))
	if transactionID == "" {
		return renderError(c, apperror.Validation("missing_transaction_id", "Transaction id is required"))
	}

	order, err := oc.orders.Get(c.UserContext(), transactionID)
	if err != nil {
		return renderError(c, err)
	}

	response := fiber.Map{
		"transaction_id": order.TransactionID,
		"status":         order.Status,
		"price_amount":   order.PriceAmount,
		"price_currency": order.PriceCurrency,
	}
	if confirmation := order.Confirmation(); confirmation != nil {
		response["confirmation"] = confirmation
	}
	return c.JSON(response)
}

type AdminOrderController struct {
	resender ActivationResender
}

func NewAdminOrderController(resender ActivationResender) *AdminOrderController {
	return &AdminOrderController{resender: resender}
}

// HandleResendActivation serves POST /api/v1/admin/orders/:transactionId/resend-activation.
// Without ?force=true an email that was already delivered is not sent again.
func (ac *AdminOrderController) HandleResendActivation(c *fiber.Ctx) error {
	transactionID := strings.TrimSpace(c.Params("transactionId"))
	force := c.QueryBool("force", false)

	notificationID, err := ac.resender.ResendActivation(c.UserContext(), transactionID, force)
	if err != nil {
		return renderError(c, err)
	}
	if notificationID == "" {
		return c.JSON(fiber.Map{"ok": true, "sent": false})
	}
	return c.JSON(fiber.Map{"ok": true, "sent": true, "notification_id": notificationID})
}
