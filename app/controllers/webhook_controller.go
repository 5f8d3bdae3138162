package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/config"
	"github.com/roamwire/roamwire/internal/pkg/metrics"
	"github.com/roamwire/roamwire/internal/pkg/reconcile"
	"github.com/roamwire/roamwire/internal/pkg/webhook"
)

// EventHandler reconciles a normalized webhook event.
type EventHandler interface {
	Handle(ctx context.Context, ev *webhook.Event) (*reconcile.Result, error)
}

// WebhookController authenticates inbound webhooks and hands them to the
// reconciliation engine. Every delivery is answered with 2xx unless the
// sender should retry it.
type WebhookController struct {
	engine EventHandler
	cfg    config.WebhookConfig
	now    func() time.Time
}

func NewWebhookController(engine EventHandler, cfg config.WebhookConfig) *WebhookController {
	if cfg.SignatureTolerance <= 0 {
		cfg.SignatureTolerance = 5 * time.Minute
	}
	return &WebhookController{engine: engine, cfg: cfg, now: time.Now}
}

// HandlePaymentWebhook serves POST /webhooks/payments.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	body := c.Body()
	if !webhook.VerifyPaymentSignature(body, c.Get("Stripe-Signature"), wc.cfg.PaymentSecret, wc.cfg.SignatureTolerance, wc.now()) {
		metrics.WebhookEvents.WithLabelValues(models.WEBHOOK_SOURCE_PAYMENT, "unauthorized").Inc()
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": "Invalid signature"})
	}
	return wc.handle(c, models.WEBHOOK_SOURCE_PAYMENT, body)
}

// HandleProvisioningWebhook serves POST /webhooks/provisioning. The vendor is
// authenticated by signature, by source address, or both, depending on what
// is configured. With neither configured every delivery is refused.
func (wc *WebhookController) HandleProvisioningWebhook(c *fiber.Ctx) error {
	body := c.Body()
	secret := wc.cfg.ProvisioningSecret
	allowlist := wc.cfg.ProvisioningAllowedIPs

	if secret == "" && len(allowlist) == 0 {
		log.Warn("[Webhook] Provisioning webhook received but no secret or allowlist is configured")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook authentication is not configured"})
	}
	if len(allowlist) > 0 && !webhook.IPAllowed(c.IP(), allowlist) {
		metrics.WebhookEvents.WithLabelValues(models.WEBHOOK_SOURCE_PROVISIONING, "forbidden").Inc()
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Source address not allowed"})
	}
	if secret != "" && !webhook.VerifyProvisioningSignature(body, c.Get("X-Signature"), secret) {
		metrics.WebhookEvents.WithLabelValues(models.WEBHOOK_SOURCE_PROVISIONING, "unauthorized").Inc()
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": "Invalid signature"})
	}
	return wc.handle(c, models.WEBHOOK_SOURCE_PROVISIONING, body)
}

func (wc *WebhookController) handle(c *fiber.Ctx, source string, body []byte) error {
	// Fiber reuses the request buffer once the handler returns.
	payload := append([]byte(nil), body...)

	ev, err := webhook.Normalize(source, payload)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(source, "invalid").Inc()
		log.Warnf("[Webhook] Rejected %s payload: %v", source, err)
		return renderError(c, err)
	}

	res, err := wc.engine.Handle(c.UserContext(), ev)
	if err != nil {
		log.Errorf("[Webhook] %s event %s failed: %v", source, ev.EventID, err)
		return renderError(c, err)
	}

	switch res.Outcome {
	case reconcile.OutcomeDuplicate:
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	case reconcile.OutcomeParked, reconcile.OutcomeDeferred:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "parked": true})
	case reconcile.OutcomeExhausted:
		return c.JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		return c.JSON(fiber.Map{"ok": true})
	}
}
