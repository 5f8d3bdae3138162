package webhook

import (
	"encoding/json"
	"strings"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
	"github.com/roamwire/roamwire/internal/pkg/orders"
)

var paymentKinds = map[string]Kind{
	"payment_intent.succeeded":      KindPaymentCaptured,
	"payment_succeeded":             KindPaymentCaptured,
	"payment_intent.payment_failed": KindPaymentFailed,
	"payment_failed":                KindPaymentFailed,
	"payment_intent.canceled":       KindExternalCancellation,
	"payment_canceled":              KindExternalCancellation,
	"charge.refunded":               KindExternalCancellation,
	"payment_refunded":              KindExternalCancellation,
}

// ParsePaymentEvent accepts the processor's event envelope
// ({"id","type","data":{"object":{...}}}) as well as the flat form
// ({"event_id","type","payment_ref","transaction_id",...}).
func ParsePaymentEvent(payload []byte) (*Event, error) {
	type paymentObject struct {
		ID            string            `json:"id"`
		Object        string            `json:"object"`
		PaymentIntent string            `json:"payment_intent"`
		Amount        int64             `json:"amount"`
		Currency      string            `json:"currency"`
		Metadata      map[string]string `json:"metadata"`
	}
	type rawPayload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object paymentObject `json:"object"`
		} `json:"data"`

		EventID       string `json:"event_id"`
		PaymentRef    string `json:"payment_ref"`
		TransactionID string `json:"transaction_id"`
		Amount        int64  `json:"amount"`
		Currency      string `json:"currency"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, apperror.Validation("malformed_payload", "payment webhook payload is not valid JSON")
	}

	eventID := strings.TrimSpace(raw.ID)
	if eventID == "" {
		eventID = strings.TrimSpace(raw.EventID)
	}
	if eventID == "" {
		return nil, apperror.Validation("missing_event_id", "payment webhook payload missing event id")
	}
	eventType := strings.TrimSpace(raw.Type)
	if eventType == "" {
		return nil, apperror.Validation("missing_event_type", "payment webhook payload missing event type")
	}

	obj := raw.Data.Object
	paymentRef := strings.TrimSpace(obj.ID)
	// Charge objects point back at their payment intent.
	if obj.Object == "charge" || strings.HasPrefix(eventType, "charge.") {
		paymentRef = strings.TrimSpace(obj.PaymentIntent)
	}
	if paymentRef == "" {
		paymentRef = strings.TrimSpace(raw.PaymentRef)
	}

	transactionID := strings.TrimSpace(obj.Metadata["transaction_id"])
	if transactionID == "" {
		transactionID = strings.TrimSpace(raw.TransactionID)
	}

	amount, currency := obj.Amount, obj.Currency
	if amount == 0 && currency == "" {
		amount, currency = raw.Amount, raw.Currency
	}

	kind, ok := paymentKinds[eventType]
	if !ok {
		kind = KindInformational
	}

	return &Event{
		Source:    models.WEBHOOK_SOURCE_PAYMENT,
		EventID:   eventID,
		EventType: eventType,
		Kind:      kind,
		Correlation: orders.Correlation{
			TransactionID: transactionID,
			PaymentRef:    paymentRef,
		},
		Amount:   amount,
		Currency: strings.ToLower(strings.TrimSpace(currency)),
		Payload:  payload,
	}, nil
}
