package models

import "time"

// DiscountRedemption is the permanent consumption of a code by one payment attempt.
type DiscountRedemption struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	DiscountCodeID    uint      `gorm:"not null;index" json:"discount_code_id"`
	PaymentAttemptRef string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_discount_redemptions_attempt" json:"payment_attempt_ref"`
	TransactionID     string    `gorm:"type:varchar(64);not null;index" json:"transaction_id"`
	CustomerEmail     string    `gorm:"type:varchar(200);not null;default:''" json:"customer_email"`
	DiscountAmount    int64     `gorm:"not null;default:0" json:"discount_amount"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}
