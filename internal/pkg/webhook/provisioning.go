package webhook

import (
	"encoding/json"
	"strings"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
	"github.com/roamwire/roamwire/internal/pkg/orders"
)

const (
	ProvisioningTypeOrderStatus = "order_status"
	ProvisioningTypeESIMStatus  = "esim_status"
	ProvisioningTypeDataUsage   = "data_usage"
)

// ParseProvisioningEvent reads the vendor-neutral provisioning envelope:
// {"event_id","type","order_id","reference","status","esim":{...}}.
func ParseProvisioningEvent(payload []byte) (*Event, error) {
	type rawPayload struct {
		EventID   string `json:"event_id"`
		Type      string `json:"type"`
		OrderID   string `json:"order_id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
		ESIM      *struct {
			ICCID          string `json:"iccid"`
			ActivationCode string `json:"activation_code"`
			SMDPAddress    string `json:"smdp_address"`
		} `json:"esim"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, apperror.Validation("malformed_payload", "provisioning webhook payload is not valid JSON")
	}

	eventID := strings.TrimSpace(raw.EventID)
	if eventID == "" {
		return nil, apperror.Validation("missing_event_id", "provisioning webhook payload missing event id")
	}
	eventType := strings.ToLower(strings.TrimSpace(raw.Type))
	if eventType == "" {
		return nil, apperror.Validation("missing_event_type", "provisioning webhook payload missing event type")
	}
	status := strings.ToLower(strings.TrimSpace(raw.Status))

	var conf *models.Confirmation
	if raw.ESIM != nil {
		c := models.Confirmation{
			ICCID:          strings.TrimSpace(raw.ESIM.ICCID),
			ActivationCode: strings.TrimSpace(raw.ESIM.ActivationCode),
			SMDPAddress:    strings.TrimSpace(raw.ESIM.SMDPAddress),
		}
		if c.ICCID != "" || c.ActivationCode != "" {
			conf = &c
		}
	}

	return &Event{
		Source:    models.WEBHOOK_SOURCE_PROVISIONING,
		EventID:   eventID,
		EventType: eventType,
		Kind:      provisioningKind(eventType, status),
		Correlation: orders.Correlation{
			TransactionID:    strings.TrimSpace(raw.Reference),
			ProviderOrderRef: strings.TrimSpace(raw.OrderID),
		},
		Status:       status,
		Confirmation: conf,
		Payload:      payload,
	}, nil
}

func provisioningKind(eventType, status string) Kind {
	switch eventType {
	case ProvisioningTypeOrderStatus:
		switch status {
		case "completed", "fulfilled", "ready":
			return KindProviderFulfilled
		case "failed", "rejected", "error":
			return KindProviderFailed
		case "cancelled", "canceled", "refunded":
			return KindExternalCancellation
		}
	case ProvisioningTypeESIMStatus:
		switch status {
		case "activated", "installed", "enabled":
			return KindProviderActivated
		}
	}
	return KindInformational
}
