package models

// All lists every table for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Order{},
		&OrderNotification{},
		&Plan{},
		&DiscountCode{},
		&DiscountReservation{},
		&DiscountRedemption{},
		&WebhookEvent{},
	}
}
