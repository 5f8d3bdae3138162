package models

import "time"

const (
	ORDER_STATUS_PENDING            = "PENDING"
	ORDER_STATUS_PROCESSING         = "PROCESSING"
	ORDER_STATUS_PROVIDER_FULFILLED = "PROVIDER_FULFILLED"
	ORDER_STATUS_ACTIVE             = "ACTIVE"
	ORDER_STATUS_FAILED             = "FAILED"
	ORDER_STATUS_CANCELLED          = "CANCELLED"
)

// Order is one purchase attempt. It is created PENDING at checkout and only
// moved afterwards by the reconciliation engine. Rows are never deleted.
type Order struct {
	ID                         uint      `gorm:"primaryKey" json:"id"`
	TransactionID              string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_orders_transaction_id" json:"transaction_id"`
	Status                     string    `gorm:"type:varchar(32);not null;default:'PENDING';index" json:"status"`
	StatusReason               string    `gorm:"type:text" json:"status_reason,omitempty"`
	PaymentRef                 *string   `gorm:"type:varchar(191);uniqueIndex:ux_orders_payment_ref" json:"payment_ref,omitempty"`
	ProviderOrderRef           *string   `gorm:"type:varchar(191);uniqueIndex:ux_orders_provider_order_ref" json:"provider_order_ref,omitempty"`
	PlanSKU                    string    `gorm:"column:plan_sku;type:varchar(100);not null;default:''" json:"plan_sku"`
	SubtotalAmount             int64     `gorm:"not null;default:0" json:"subtotal_amount"`
	CostFloorAmount            int64     `gorm:"not null;default:0" json:"-"`
	DiscountCode               string    `gorm:"type:varchar(64);not null;default:''" json:"discount_code,omitempty"`
	DiscountAmount             int64     `gorm:"not null;default:0" json:"discount_amount"`
	PriceAmount                int64     `gorm:"not null" json:"price_amount"`
	PriceCurrency              string    `gorm:"type:varchar(3);not null" json:"price_currency"`
	CustomerEmail              string    `gorm:"type:varchar(200);not null;index" json:"customer_email"`
	CustomerName               string    `gorm:"type:varchar(150);not null" json:"customer_name"`
	ConfirmationICCID          *string   `gorm:"column:confirmation_iccid;type:varchar(32)" json:"-"`
	ConfirmationActivationCode *string   `gorm:"type:text" json:"-"`
	ConfirmationSMDPAddress    *string   `gorm:"column:confirmation_smdp_address;type:varchar(255)" json:"-"`
	NotificationsSent          []string  `gorm:"-" json:"notifications_sent"`
	CreatedAt                  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt                  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Confirmation is the eSIM profile handed back by the provisioning vendor.
type Confirmation struct {
	ICCID          string `json:"iccid"`
	ActivationCode string `json:"activation_code"`
	SMDPAddress    string `json:"smdp_address"`
}

// Confirmation returns nil until the vendor has delivered a profile.
func (o *Order) Confirmation() *Confirmation {
	if o.ConfirmationICCID == nil && o.ConfirmationActivationCode == nil && o.ConfirmationSMDPAddress == nil {
		return nil
	}
	return &Confirmation{
		ICCID:          deref(o.ConfirmationICCID),
		ActivationCode: deref(o.ConfirmationActivationCode),
		SMDPAddress:    deref(o.ConfirmationSMDPAddress),
	}
}

func (o *Order) IsTerminal() bool {
	return IsTerminalOrderStatus(o.Status)
}

func (o *Order) HasNotification(kind string) bool {
	for _, k := range o.NotificationsSent {
		if k == kind {
			return true
		}
	}
	return false
}

func IsTerminalOrderStatus(status string) bool {
	return status == ORDER_STATUS_FAILED || status == ORDER_STATUS_CANCELLED
}

// IsFulfilledOrderStatus reports whether an order in this status must carry a confirmation.
func IsFulfilledOrderStatus(status string) bool {
	return status == ORDER_STATUS_PROVIDER_FULFILLED || status == ORDER_STATUS_ACTIVE
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
