package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
	"github.com/roamwire/roamwire/internal/pkg/config"
	"github.com/roamwire/roamwire/internal/pkg/dbtest"
	"github.com/roamwire/roamwire/internal/pkg/discount"
	"github.com/roamwire/roamwire/internal/pkg/orders"
	"github.com/roamwire/roamwire/internal/pkg/payment"
)

type fakeGateway struct {
	mu        sync.Mutex
	fail      error
	requests  []payment.IntentRequest
	cancelled []string
}

func (g *fakeGateway) CreateIntent(ctx context.Context, in payment.IntentRequest) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return nil, g.fail
	}
	g.requests = append(g.requests, in)
	return &payment.Intent{
		ID:           fmt.Sprintf("pi_%d", len(g.requests)),
		ClientSecret: fmt.Sprintf("pi_%d_secret", len(g.requests)),
		Status:       "requires_payment_method",
		Amount:       in.Amount,
		Currency:     in.Currency,
	}, nil
}

func (g *fakeGateway) CancelIntent(ctx context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, intentID)
	return nil
}

type harness struct {
	db        *gorm.DB
	service   *Service
	store     *orders.Store
	discounts *discount.Manager
	gateway   *fakeGateway
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()
	db := dbtest.New(t)
	cfg := config.Default()
	cfg.Pricing.MinimumProfitMargin = 200
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &harness{
		db:        db,
		store:     orders.NewStore(db),
		discounts: discount.NewManager(db),
		gateway:   &fakeGateway{},
	}
	h.service = NewService(db, h.store, h.discounts, h.gateway, cfg)

	plans := []models.Plan{
		{SKU: "eu-5gb", Name: "Europe 5 GB", ScopeTag: models.PLAN_SCOPE_ESIM, PriceAmount: 2000, CostAmount: 1000, Currency: "usd", IsActive: true},
		{SKU: "us-1gb", Name: "USA 1 GB", ScopeTag: models.PLAN_SCOPE_ESIM, PriceAmount: 500, CostAmount: 300, Currency: "USD", IsActive: true},
		{SKU: "jp-3gb", Name: "Japan 3 GB", ScopeTag: models.PLAN_SCOPE_ESIM, PriceAmount: 1500, CostAmount: 900, Currency: "jpy", IsActive: true},
		{SKU: "topup-10", Name: "Wallet top-up", ScopeTag: models.PLAN_SCOPE_WALLET_TOPUP, PriceAmount: 1000, CostAmount: 1000, Currency: "usd", IsActive: true},
	}
	require.NoError(t, db.Create(&plans).Error)
	return h
}

func (h *harness) createCode(t *testing.T, code string, percentOff int, mutate ...func(*models.DiscountCode)) {
	t.Helper()
	dc := &models.DiscountCode{Code: code, PercentOff: percentOff, MaxRedemptions: 1, IsActive: true}
	for _, fn := range mutate {
		fn(dc)
	}
	require.NoError(t, h.discounts.Create(context.Background(), dc))
}

func request(code string, items ...Item) Request {
	if len(items) == 0 {
		items = []Item{{SKU: "eu-5gb", Quantity: 1}}
	}
	return Request{
		Items:         items,
		CustomerEmail: " Traveller@Example.com ",
		CustomerName:  "Alex Traveller",
		DiscountCode:  code,
	}
}

func TestCreatePaymentAttemptWithoutDiscount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	attempt, err := h.service.CreatePaymentAttempt(ctx, request("", Item{SKU: "eu-5gb", Quantity: 1}, Item{SKU: "us-1gb", Quantity: 2}))
	require.NoError(t, err)

	assert.Equal(t, "pi_1", attempt.PaymentAttemptRef)
	assert.Equal(t, "pi_1_secret", attempt.ClientSecret)
	assert.Equal(t, int64(3000), attempt.TotalAmount)
	assert.Equal(t, "usd", attempt.Currency)
	assert.Nil(t, attempt.DiscountApplied)

	require.Len(t, h.gateway.requests, 1)
	assert.Equal(t, attempt.TransactionID, h.gateway.requests[0].TransactionID)
	assert.Equal(t, int64(3000), h.gateway.requests[0].Amount)

	order, err := h.store.Get(ctx, attempt.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.ORDER_STATUS_PENDING, order.Status)
	assert.Equal(t, "pi_1", *order.PaymentRef)
	assert.Equal(t, "eu-5gb,us-1gb", order.PlanSKU)
	assert.Equal(t, "usd", order.PriceCurrency)
	assert.Equal(t, int64(3000), order.SubtotalAmount)
	assert.Equal(t, int64(1600+200), order.CostFloorAmount)
	assert.Equal(t, "traveller@example.com", order.CustomerEmail)
	assert.Nil(t, order.Confirmation())
}

func TestCreatePaymentAttemptRespectsCostFloor(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Pricing.MinimumProfitMargin = 200 })
	h.createCode(t, "HALF", 50)

	attempt, err := h.service.CreatePaymentAttempt(context.Background(), request("half"))
	require.NoError(t, err)

	// 50% of 2000 would be 1000, but the floor is 1000 cost + 200 margin.
	assert.Equal(t, int64(1200), attempt.TotalAmount)
	require.NotNil(t, attempt.DiscountApplied)
	assert.Equal(t, "HALF", attempt.DiscountApplied.Code)
	assert.Equal(t, int64(800), attempt.DiscountApplied.Amount)

	order, err := h.store.Get(context.Background(), attempt.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "HALF", order.DiscountCode)
	assert.Equal(t, int64(800), order.DiscountAmount)
	assert.Equal(t, int64(1200), order.PriceAmount)
}

func TestCreatePaymentAttemptHoldsReservation(t *testing.T) {
	h := newHarness(t)
	h.createCode(t, "SAVE10", 10)
	ctx := context.Background()

	attempt, err := h.service.CreatePaymentAttempt(ctx, request("SAVE10"))
	require.NoError(t, err)

	reservation, err := h.discounts.ActiveReservation(ctx, "SAVE10")
	require.NoError(t, err)
	require.NotNil(t, reservation)
	assert.Equal(t, attempt.PaymentAttemptRef, reservation.PaymentAttemptRef)
	assert.Equal(t, attempt.TransactionID, reservation.TransactionID)

	_, err = h.service.CreatePaymentAttempt(ctx, request("SAVE10"))
	assert.ErrorIs(t, err, discount.ErrCodeInUse)
	assert.Equal(t, []string{"pi_2"}, h.gateway.cancelled)

	var count int64
	require.NoError(t, h.db.Model(&models.Order{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreatePaymentAttemptValidation(t *testing.T) {
	h := newHarness(t)
	h.createCode(t, "TOPUPONLY", 10, func(dc *models.DiscountCode) { dc.AppliesTo = models.PLAN_SCOPE_WALLET_TOPUP })

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"no items", Request{CustomerEmail: "a@example.com", CustomerName: "A"}, "invalid_request"},
		{"bad email", Request{Items: []Item{{SKU: "eu-5gb", Quantity: 1}}, CustomerEmail: "nope", CustomerName: "A"}, "invalid_request"},
		{"zero quantity", request("", Item{SKU: "eu-5gb"}), "invalid_request"},
		{"unknown plan", request("", Item{SKU: "mars-1gb", Quantity: 1}), "unknown_plan"},
		{"mixed currency", request("", Item{SKU: "eu-5gb", Quantity: 1}, Item{SKU: "jp-3gb", Quantity: 1}), "mixed_currency"},
		{"top-up disabled", request("", Item{SKU: "topup-10", Quantity: 1}), "unknown_plan"},
		{"unknown code", request("NOPE"), "discount_not_found"},
		{"wrong scope", request("TOPUPONLY"), "discount_scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.service.CreatePaymentAttempt(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperror.IsKind(err, apperror.KindValidation))
			assert.Equal(t, tt.want, apperror.CodeOf(err))
		})
	}
	assert.Empty(t, h.gateway.requests)
}

func TestCreatePaymentAttemptFeatureFlags(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Features.DiscountsEnabled = false
		cfg.Features.WalletTopUp = true
	})
	h.createCode(t, "SAVE10", 10)

	_, err := h.service.CreatePaymentAttempt(context.Background(), request("SAVE10"))
	assert.Equal(t, "discounts_disabled", apperror.CodeOf(err))

	attempt, err := h.service.CreatePaymentAttempt(context.Background(), request("", Item{SKU: "topup-10", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), attempt.TotalAmount)
}

func TestCreatePaymentAttemptGatewayFailure(t *testing.T) {
	h := newHarness(t)
	h.createCode(t, "SAVE10", 10)
	h.gateway.fail = errors.New("connection refused")
	ctx := context.Background()

	_, err := h.service.CreatePaymentAttempt(ctx, request("SAVE10"))
	assert.True(t, apperror.IsKind(err, apperror.KindTransient))

	reservation, err := h.discounts.ActiveReservation(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Nil(t, reservation)
}

func TestCreatePaymentAttemptReleasesOnOrderFailure(t *testing.T) {
	h := newHarness(t)
	h.createCode(t, "SAVE10", 10)
	ctx := context.Background()

	// Reusing a transaction id makes the order insert fail after the reservation.
	h.service.newID = func() string { return "txn-fixed" }
	_, err := h.service.CreatePaymentAttempt(ctx, request(""))
	require.NoError(t, err)

	_, err = h.service.CreatePaymentAttempt(ctx, request("SAVE10"))
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))
	assert.Equal(t, "order_exists", apperror.CodeOf(err))
	assert.Equal(t, []string{"pi_2"}, h.gateway.cancelled)

	reservation, err := h.discounts.ActiveReservation(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Nil(t, reservation)
}

func TestPreview(t *testing.T) {
	h := newHarness(t)
	h.createCode(t, "SAVE10", 10)
	ctx := context.Background()

	preview, err := h.service.Preview(ctx, PreviewRequest{
		Items:        []Item{{SKU: "eu-5gb", Quantity: 2}},
		DiscountCode: "save10",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), preview.Subtotal)
	assert.Equal(t, int64(400), preview.DiscountAmount)
	assert.Equal(t, int64(3600), preview.Total)
	assert.Equal(t, "usd", preview.Currency)

	reservation, err := h.discounts.ActiveReservation(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Nil(t, reservation)
	assert.Empty(t, h.gateway.requests)
}
