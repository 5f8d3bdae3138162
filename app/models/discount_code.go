package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const DISCOUNT_SCOPE_ALL = "all"

// DiscountCode is a reusable discount definition. RedeemedCount only grows.
type DiscountCode struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Code               string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_discount_codes_code" json:"code" validate:"required,max=64"`
	PercentOff         int        `gorm:"not null" json:"percent_off" validate:"min=1,max=90"`
	AppliesTo          string     `gorm:"type:varchar(50);not null;default:'all'" json:"applies_to" validate:"required,max=50"`
	MaxRedemptions     int        `gorm:"not null;default:1" json:"max_redemptions" validate:"min=1"`
	RedeemedCount      int        `gorm:"not null;default:0" json:"redeemed_count" validate:"min=0,ltefield=MaxRedemptions"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	BoundEmail         string     `gorm:"type:varchar(200);not null;default:''" json:"bound_email,omitempty" validate:"omitempty,email"`
	BoundTransactionID string     `gorm:"type:varchar(64);not null;default:''" json:"bound_transaction_id,omitempty"`
	IsActive           bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d *DiscountCode) Validate() error {
	v := validator.New()

	return v.Struct(d)
}

func (d *DiscountCode) IsExpired(now time.Time) bool {
	return d.ExpiresAt != nil && !d.ExpiresAt.After(now)
}

func (d *DiscountCode) RemainingRedemptions() int {
	if d.RedeemedCount >= d.MaxRedemptions {
		return 0
	}
	return d.MaxRedemptions - d.RedeemedCount
}

func (d *DiscountCode) AppliesToScope(scope string) bool {
	if d.AppliesTo == "" || d.AppliesTo == DISCOUNT_SCOPE_ALL {
		return true
	}
	return strings.EqualFold(d.AppliesTo, scope)
}

// NormalizeDiscountCode is the canonical stored form of a code.
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
