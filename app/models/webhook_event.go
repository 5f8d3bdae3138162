package models

import "time"

const (
	WEBHOOK_SOURCE_PAYMENT      = "payment"
	WEBHOOK_SOURCE_PROVISIONING = "provisioning"
)

// WebhookEvent is the idempotency ledger row for one inbound webhook delivery.
// Rows are append-only; only the processing columns are updated in place.
type WebhookEvent struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Source             string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_source_event,unique,priority:1" json:"source"`
	EventID            string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_source_event,unique,priority:2" json:"event_id"`
	EventType          string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	TransactionID      string     `gorm:"type:varchar(64);not null;default:'';index" json:"transaction_id,omitempty"`
	PaymentRef         string     `gorm:"type:varchar(191);not null;default:''" json:"payment_ref,omitempty"`
	ProviderOrderRef   string     `gorm:"type:varchar(191);not null;default:''" json:"provider_order_ref,omitempty"`
	PayloadJSON        string     `gorm:"type:text;not null" json:"payload_json"`
	Processed          bool       `gorm:"not null;default:false;index" json:"processed"`
	ProcessingAttempts int        `gorm:"not null;default:0" json:"processing_attempts"`
	ProcessingError    string     `gorm:"type:text" json:"processing_error"`
	ProcessedAt        *time.Time `gorm:"default:null" json:"processed_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
}
