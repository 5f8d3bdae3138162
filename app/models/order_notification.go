package models

import "time"

const NOTIFICATION_KIND_ACTIVATION_EMAIL = "activation_email"

// OrderNotification marks a customer notification kind as delivered for an order.
// The unique (transaction_id, kind) pair is what makes a send exactly-once.
type OrderNotification struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TransactionID  string    `gorm:"type:varchar(64);not null;index:ux_order_notifications_kind,unique,priority:1" json:"transaction_id"`
	Kind           string    `gorm:"type:varchar(50);not null;index:ux_order_notifications_kind,unique,priority:2" json:"kind"`
	NotificationID string    `gorm:"type:varchar(191);not null;default:''" json:"notification_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
