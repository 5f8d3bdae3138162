package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamwire/roamwire/internal/pkg/apperror"
	"github.com/roamwire/roamwire/internal/pkg/config"
	"github.com/roamwire/roamwire/internal/pkg/reconcile"
	"github.com/roamwire/roamwire/internal/pkg/webhook"
)

type fakeEngine struct {
	outcome reconcile.Outcome
	err     error
	events  []*webhook.Event
}

func (f *fakeEngine) Handle(ctx context.Context, ev *webhook.Event) (*reconcile.Result, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	return &reconcile.Result{Outcome: f.outcome, EventID: ev.EventID}, nil
}

const (
	paymentSecret      = "whsec_test"
	provisioningSecret = "prov_test"
)

var paymentBody = []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":2000,"currency":"usd","status":"succeeded","metadata":{"transaction_id":"txn-1"}}}}`)

var provisioningBody = []byte(`{"event_id":"vnd_1","type":"order_status","reference":"txn-1","order_id":"prov_1","status":"completed","esim":{"iccid":"8901","activation_code":"LPA:1$x$y","smdp_address":"smdp.example.com"}}`)

func newWebhookApp(engine *fakeEngine, mutate ...func(*config.WebhookConfig)) *fiber.App {
	cfg := config.WebhookConfig{PaymentSecret: paymentSecret, ProvisioningSecret: provisioningSecret}
	for _, fn := range mutate {
		fn(&cfg)
	}
	wc := NewWebhookController(engine, cfg)
	app := fiber.New()
	app.Post("/webhooks/payments", wc.HandlePaymentWebhook)
	app.Post("/webhooks/provisioning", wc.HandleProvisioningWebhook)
	return app
}

func post(t *testing.T, app *fiber.App, path string, body []byte, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

func TestPaymentWebhookOutcomes(t *testing.T) {
	tests := []struct {
		outcome reconcile.Outcome
		status  int
		flag    string
	}{
		{reconcile.OutcomeApplied, fiber.StatusOK, ""},
		{reconcile.OutcomeNoop, fiber.StatusOK, ""},
		{reconcile.OutcomeDuplicate, fiber.StatusOK, "duplicate"},
		{reconcile.OutcomeParked, fiber.StatusAccepted, "parked"},
		{reconcile.OutcomeDeferred, fiber.StatusAccepted, "parked"},
		{reconcile.OutcomeExhausted, fiber.StatusOK, "ignored"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			engine := &fakeEngine{outcome: tt.outcome}
			app := newWebhookApp(engine)

			status, body := post(t, app, "/webhooks/payments", paymentBody, map[string]string{
				"Stripe-Signature": webhook.SignPayment(paymentBody, paymentSecret, time.Now()),
			})
			assert.Equal(t, tt.status, status)
			assert.Equal(t, true, body["ok"])
			if tt.flag != "" {
				assert.Equal(t, true, body[tt.flag])
			}

			require.Len(t, engine.events, 1)
			assert.Equal(t, "evt_1", engine.events[0].EventID)
			assert.Equal(t, webhook.KindPaymentCaptured, engine.events[0].Kind)
		})
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	engine := &fakeEngine{outcome: reconcile.OutcomeApplied}
	app := newWebhookApp(engine)

	status, body := post(t, app, "/webhooks/payments", paymentBody, map[string]string{
		"Stripe-Signature": webhook.SignPayment(paymentBody, "wrong", time.Now()),
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "invalid_signature", body["error"])

	status, _ = post(t, app, "/webhooks/payments", paymentBody, map[string]string{
		"Stripe-Signature": webhook.SignPayment(paymentBody, paymentSecret, time.Now().Add(-time.Hour)),
	})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Empty(t, engine.events)
}

func TestWebhookErrors(t *testing.T) {
	t.Run("malformed payload is not retried", func(t *testing.T) {
		engine := &fakeEngine{}
		app := newWebhookApp(engine)
		body := []byte(`{"type":`)

		status, out := post(t, app, "/webhooks/payments", body, map[string]string{
			"Stripe-Signature": webhook.SignPayment(body, paymentSecret, time.Now()),
		})
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.NotEmpty(t, out["error"])
		assert.Empty(t, engine.events)
	})

	t.Run("store failure asks for a retry", func(t *testing.T) {
		engine := &fakeEngine{err: apperror.Transient(errors.New("connection refused"), "webhook ledger unavailable")}
		app := newWebhookApp(engine)

		status, out := post(t, app, "/webhooks/payments", paymentBody, map[string]string{
			"Stripe-Signature": webhook.SignPayment(paymentBody, paymentSecret, time.Now()),
		})
		assert.Equal(t, fiber.StatusServiceUnavailable, status)
		assert.Equal(t, "temporarily_unavailable", out["error"])
	})
}

func TestProvisioningWebhookAuthentication(t *testing.T) {
	signed := map[string]string{"X-Signature": webhook.SignProvisioning(provisioningBody, provisioningSecret)}

	t.Run("valid signature", func(t *testing.T) {
		engine := &fakeEngine{outcome: reconcile.OutcomeApplied}
		status, _ := post(t, newWebhookApp(engine), "/webhooks/provisioning", provisioningBody, signed)
		assert.Equal(t, fiber.StatusOK, status)
		require.Len(t, engine.events, 1)
		assert.Equal(t, webhook.KindProviderFulfilled, engine.events[0].Kind)
	})

	t.Run("invalid signature", func(t *testing.T) {
		engine := &fakeEngine{outcome: reconcile.OutcomeApplied}
		status, _ := post(t, newWebhookApp(engine), "/webhooks/provisioning", provisioningBody, map[string]string{"X-Signature": "00"})
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Empty(t, engine.events)
	})

	t.Run("address outside allowlist", func(t *testing.T) {
		engine := &fakeEngine{outcome: reconcile.OutcomeApplied}
		app := newWebhookApp(engine, func(cfg *config.WebhookConfig) {
			cfg.ProvisioningAllowedIPs = []string{"203.0.113.0/24"}
		})
		status, _ := post(t, app, "/webhooks/provisioning", provisioningBody, signed)
		assert.Equal(t, fiber.StatusForbidden, status)
		assert.Empty(t, engine.events)
	})

	t.Run("allowlist only", func(t *testing.T) {
		engine := &fakeEngine{outcome: reconcile.OutcomeApplied}
		app := newWebhookApp(engine, func(cfg *config.WebhookConfig) {
			cfg.ProvisioningSecret = ""
			cfg.ProvisioningAllowedIPs = []string{"0.0.0.0/0"}
		})
		status, _ := post(t, app, "/webhooks/provisioning", provisioningBody, nil)
		assert.Equal(t, fiber.StatusOK, status)
	})

	t.Run("nothing configured", func(t *testing.T) {
		engine := &fakeEngine{outcome: reconcile.OutcomeApplied}
		app := newWebhookApp(engine, func(cfg *config.WebhookConfig) { cfg.ProvisioningSecret = "" })
		status, _ := post(t, app, "/webhooks/provisioning", provisioningBody, signed)
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Empty(t, engine.events)
	})
}
