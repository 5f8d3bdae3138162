package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roamwire/roamwire/internal/pkg/config"
)

const defaultAPIBaseURL = "https://api.stripe.com"

// IntentRequest describes the payment attempt to open with the processor.
type IntentRequest struct {
	TransactionID string
	Amount        int64
	Currency      string
	CustomerEmail string
	Description   string
	DiscountCode  string
}

// Intent is a payment attempt at the processor. ID is the payment attempt ref.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Client talks to a Stripe-compatible payment intents API.
type Client struct {
	SecretKey  string
	APIBaseURL string
	HTTPClient *http.Client
}

func NewClient(cfg config.PaymentConfig) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = defaultAPIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		SecretKey:  strings.TrimSpace(cfg.SecretKey),
		APIBaseURL: base,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// CreateIntent opens a payment intent. The transaction id doubles as the
// idempotency key, so a retried checkout never opens a second intent.
func (c *Client) CreateIntent(ctx context.Context, in IntentRequest) (*Intent, error) {
	if in.Amount <= 0 {
		return nil, errors.New("payment amount must be positive")
	}
	if strings.TrimSpace(in.TransactionID) == "" {
		return nil, errors.New("transaction id is required")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(in.Amount, 10))
	form.Set("currency", strings.ToLower(in.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	form.Set("metadata[transaction_id]", in.TransactionID)
	if in.CustomerEmail != "" {
		form.Set("receipt_email", in.CustomerEmail)
	}
	if in.Description != "" {
		form.Set("description", in.Description)
	}
	if in.DiscountCode != "" {
		form.Set("metadata[discount_code]", in.DiscountCode)
	}

	var out Intent
	if err := c.post(ctx, "/v1/payment_intents", form, in.TransactionID, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("payment intent response missing id")
	}
	return &out, nil
}

// CancelIntent abandons an intent that will not be paid.
func (c *Client) CancelIntent(ctx context.Context, intentID string) error {
	id := strings.TrimSpace(intentID)
	if id == "" {
		return errors.New("payment intent id is required")
	}
	return c.post(ctx, "/v1/payment_intents/"+url.PathEscape(id)+"/cancel", url.Values{}, "", nil)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, idempotencyKey string, out interface{}) error {
	if c.SecretKey == "" {
		return errors.New("PAYMENT_SECRET_KEY is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.SecretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// APIError is a non-2xx answer from the processor.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment api error: status=%d message=%s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying later may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(body))
}
