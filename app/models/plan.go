package models

import "time"

const (
	PLAN_SCOPE_ESIM         = "esim"
	PLAN_SCOPE_WALLET_TOPUP = "wallet_topup"
)

// Plan is a sellable eSIM data plan. Checkout always prices from this table.
type Plan struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SKU         string    `gorm:"column:sku;type:varchar(100);not null;uniqueIndex:ux_plans_sku" json:"sku"`
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`
	ScopeTag    string    `gorm:"type:varchar(50);not null;default:'esim'" json:"scope_tag"`
	PriceAmount int64     `gorm:"not null" json:"price_amount"`
	Currency    string    `gorm:"type:varchar(3);not null" json:"currency"`
	CostAmount  int64     `gorm:"not null;default:0" json:"-"`
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
