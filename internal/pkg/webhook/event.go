package webhook

import (
	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
	"github.com/roamwire/roamwire/internal/pkg/orders"
)

// Kind is the source-independent meaning of an inbound event.
type Kind string

const (
	KindPaymentCaptured      Kind = "payment_captured"
	KindPaymentFailed        Kind = "payment_failed"
	KindProviderFulfilled    Kind = "provider_fulfilled"
	KindProviderFailed       Kind = "provider_failed"
	KindProviderActivated    Kind = "provider_activated"
	KindExternalCancellation Kind = "external_cancellation"
	KindInformational        Kind = "informational"
)

// Event is a normalized webhook delivery. It carries no business decisions.
type Event struct {
	Source       string
	EventID      string
	EventType    string
	Kind         Kind
	Correlation  orders.Correlation
	Status       string
	Amount       int64
	Currency     string
	Confirmation *models.Confirmation
	Payload      []byte
}

// Normalize maps a raw payload from source to an Event. Structurally invalid
// payloads yield a validation error and must not be retried.
func Normalize(source string, payload []byte) (*Event, error) {
	switch source {
	case models.WEBHOOK_SOURCE_PAYMENT:
		return ParsePaymentEvent(payload)
	case models.WEBHOOK_SOURCE_PROVISIONING:
		return ParseProvisioningEvent(payload)
	default:
		return nil, apperror.Validation("unknown_source", "unknown webhook source: "+source)
	}
}
