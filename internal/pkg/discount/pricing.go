package discount

// Quote is the server-side price of a basket after any discount, in minor units.
type Quote struct {
	Subtotal       int64 `json:"subtotal_amount"`
	Floor          int64 `json:"-"`
	DiscountAmount int64 `json:"discount_amount"`
	Total          int64 `json:"total_amount"`
}

// Floor is the lowest total that may be charged: vendor cost plus margin.
func Floor(cost, minimumProfitMargin int64) int64 {
	return cost + minimumProfitMargin
}

// Apply computes min(round(total*percentOff/100), total-floor), never negative.
// Rounding is half-up on whole cents.
func Apply(total, floor int64, percentOff int) Quote {
	q := Quote{Subtotal: total, Floor: floor, Total: total}
	if total <= 0 || percentOff <= 0 {
		return q
	}

	discount := (total*int64(percentOff) + 50) / 100
	if headroom := total - floor; discount > headroom {
		discount = headroom
	}
	if discount < 0 {
		discount = 0
	}

	q.DiscountAmount = discount
	q.Total = total - discount
	return q
}
