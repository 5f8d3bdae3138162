package models

import "time"

// DiscountReservation is the single reservation slot of a discount code.
// A row whose ExpiresAt has passed is treated as absent.
type DiscountReservation struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	DiscountCodeID    uint      `gorm:"not null;uniqueIndex:ux_discount_reservations_code" json:"discount_code_id"`
	PaymentAttemptRef string    `gorm:"type:varchar(191);not null;index" json:"payment_attempt_ref"`
	TransactionID     string    `gorm:"type:varchar(64);not null;default:''" json:"transaction_id"`
	ExpiresAt         time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *DiscountReservation) IsActive(now time.Time) bool {
	return r.ExpiresAt.After(now)
}
