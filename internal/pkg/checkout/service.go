package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
	"github.com/roamwire/roamwire/internal/pkg/config"
	"github.com/roamwire/roamwire/internal/pkg/discount"
	"github.com/roamwire/roamwire/internal/pkg/metrics"
	"github.com/roamwire/roamwire/internal/pkg/orders"
	"github.com/roamwire/roamwire/internal/pkg/payment"
)

// PaymentGateway opens and abandons payment attempts at the processor.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, in payment.IntentRequest) (*payment.Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

type Item struct {
	SKU      string `json:"sku" validate:"required,max=100"`
	Quantity int    `json:"quantity" validate:"min=1,max=10"`
}

type Request struct {
	Items         []Item `json:"items" validate:"required,min=1,max=10,dive"`
	CustomerEmail string `json:"customer_email" validate:"required,email,max=200"`
	CustomerName  string `json:"customer_name" validate:"required,max=150"`
	DiscountCode  string `json:"discount_code,omitempty" validate:"omitempty,max=64"`
}

type PreviewRequest struct {
	Items         []Item `json:"items" validate:"required,min=1,max=10,dive"`
	CustomerEmail string `json:"customer_email,omitempty" validate:"omitempty,email,max=200"`
	DiscountCode  string `json:"discount_code" validate:"required,max=64"`
}

type AppliedDiscount struct {
	Code       string `json:"code"`
	PercentOff int    `json:"percent_off"`
	Amount     int64  `json:"amount"`
}

// PaymentAttempt is what the storefront needs to collect the payment.
type PaymentAttempt struct {
	TransactionID     string           `json:"transaction_id"`
	PaymentAttemptRef string           `json:"payment_attempt_ref"`
	ClientSecret      string           `json:"client_secret"`
	TotalAmount       int64            `json:"total_amount"`
	Currency          string           `json:"currency"`
	DiscountApplied   *AppliedDiscount `json:"discount_applied,omitempty"`
}

type Preview struct {
	discount.Quote
	Currency        string           `json:"currency"`
	DiscountApplied *AppliedDiscount `json:"discount_applied,omitempty"`
}

// basket is a request priced from the plan catalog.
type basket struct {
	skus     []string
	scopes   []string
	currency string
	subtotal int64
	floor    int64
}

type Service struct {
	db        *gorm.DB
	store     *orders.Store
	discounts *discount.Manager
	gateway   PaymentGateway
	validate  *validator.Validate
	pricing   config.PricingConfig
	ttl       config.DiscountConfig
	features  config.Features
	newID     func() string
}

func NewService(db *gorm.DB, store *orders.Store, discounts *discount.Manager, gateway PaymentGateway, cfg config.Config) *Service {
	return &Service{
		db:        db,
		store:     store,
		discounts: discounts,
		gateway:   gateway,
		validate:  validator.New(),
		pricing:   cfg.Pricing,
		ttl:       cfg.Discounts,
		features:  cfg.Features,
		newID:     uuid.NewString,
	}
}

// CreatePaymentAttempt prices the basket, opens a payment intent and stores a
// PENDING order. With a discount code the reservation is held before the
// intent id is handed back.
func (s *Service) CreatePaymentAttempt(ctx context.Context, req Request) (*PaymentAttempt, error) {
	attempt, err := s.createPaymentAttempt(ctx, req)
	if err != nil {
		metrics.CheckoutAttempts.WithLabelValues(string(apperror.KindOf(err))).Inc()
		return nil, err
	}
	metrics.CheckoutAttempts.WithLabelValues("created").Inc()
	return attempt, nil
}

func (s *Service) createPaymentAttempt(ctx context.Context, req Request) (*PaymentAttempt, error) {
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.DiscountCode = strings.TrimSpace(req.DiscountCode)
	if err := s.validate.Struct(req); err != nil {
		return nil, apperror.Validation("invalid_request", err.Error())
	}

	b, err := s.price(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	transactionID := s.newID()
	quote := discount.Apply(b.subtotal, b.floor, 0)
	var code *models.DiscountCode
	if req.DiscountCode != "" {
		code, err = s.validateDiscount(ctx, req.DiscountCode, req.CustomerEmail, transactionID, b.scopes)
		if err != nil {
			return nil, err
		}
		quote = discount.Apply(b.subtotal, b.floor, code.PercentOff)
	}

	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		TransactionID: transactionID,
		Amount:        quote.Total,
		Currency:      b.currency,
		CustomerEmail: req.CustomerEmail,
		Description:   "eSIM " + strings.Join(b.skus, ", "),
		DiscountCode:  req.DiscountCode,
	})
	if err != nil {
		return nil, apperror.Transient(err, "payment provider unavailable")
	}

	order := &models.Order{
		TransactionID:   transactionID,
		PaymentRef:      &intent.ID,
		PlanSKU:         strings.Join(b.skus, ","),
		SubtotalAmount:  quote.Subtotal,
		CostFloorAmount: quote.Floor,
		DiscountAmount:  quote.DiscountAmount,
		PriceAmount:     quote.Total,
		PriceCurrency:   b.currency,
		CustomerEmail:   req.CustomerEmail,
		CustomerName:    req.CustomerName,
	}

	if code != nil {
		_, err := s.discounts.Reserve(ctx, discount.ReserveInput{
			Code:              code.Code,
			PaymentAttemptRef: intent.ID,
			TransactionID:     transactionID,
			TTL:               s.ttl.ReservationTTL,
		})
		if err != nil {
			metrics.DiscountReservations.WithLabelValues(string(apperror.KindOf(err))).Inc()
			s.cancelIntent(intent.ID)
			return nil, err
		}
		metrics.DiscountReservations.WithLabelValues("reserved").Inc()
		order.DiscountCode = code.Code
	}

	if err := s.store.Create(ctx, nil, order); err != nil {
		if code != nil {
			if _, relErr := s.discounts.Release(context.Background(), nil, intent.ID); relErr != nil {
				log.Errorf("[Checkout] Failed to release reservation for %s: %v", intent.ID, relErr)
			}
		}
		s.cancelIntent(intent.ID)
		return nil, err
	}

	log.Infof("[Checkout] Created order %s (%s %d %s, discount %q)", transactionID, intent.ID, quote.Total, b.currency, order.DiscountCode)

	attempt := &PaymentAttempt{
		TransactionID:     transactionID,
		PaymentAttemptRef: intent.ID,
		ClientSecret:      intent.ClientSecret,
		TotalAmount:       quote.Total,
		Currency:          b.currency,
	}
	if code != nil {
		attempt.DiscountApplied = &AppliedDiscount{Code: code.Code, PercentOff: code.PercentOff, Amount: quote.DiscountAmount}
	}
	return attempt, nil
}

// Preview quotes the basket with a discount code without reserving anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*Preview, error) {
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	req.DiscountCode = strings.TrimSpace(req.DiscountCode)
	if err := s.validate.Struct(req); err != nil {
		return nil, apperror.Validation("invalid_request", err.Error())
	}

	b, err := s.price(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	code, err := s.validateDiscount(ctx, req.DiscountCode, req.CustomerEmail, "", b.scopes)
	if err != nil {
		return nil, err
	}

	quote := discount.Apply(b.subtotal, b.floor, code.PercentOff)
	return &Preview{
		Quote:           quote,
		Currency:        b.currency,
		DiscountApplied: &AppliedDiscount{Code: code.Code, PercentOff: code.PercentOff, Amount: quote.DiscountAmount},
	}, nil
}

// price loads every plan in items from the catalog. Client supplied prices
// are never used.
func (s *Service) price(ctx context.Context, items []Item) (*basket, error) {
	skus := make([]string, 0, len(items))
	for _, it := range items {
		skus = append(skus, strings.TrimSpace(it.SKU))
	}

	var plans []models.Plan
	if err := s.db.WithContext(ctx).Where("sku IN ? AND is_active = ?", skus, true).Find(&plans).Error; err != nil {
		return nil, apperror.Transient(err, "plan catalog unavailable")
	}
	bySKU := make(map[string]models.Plan, len(plans))
	for _, p := range plans {
		bySKU[p.SKU] = p
	}

	b := &basket{}
	var cost int64
	scopes := map[string]bool{}
	for i, it := range items {
		plan, ok := bySKU[skus[i]]
		if !ok {
			return nil, apperror.Validation("unknown_plan", fmt.Sprintf("plan %q is not available", skus[i]))
		}
		if plan.ScopeTag == models.PLAN_SCOPE_WALLET_TOPUP && !s.features.WalletTopUp {
			return nil, apperror.Validation("unknown_plan", fmt.Sprintf("plan %q is not available", skus[i]))
		}
		currency := strings.ToLower(strings.TrimSpace(plan.Currency))
		if b.currency == "" {
			b.currency = currency
		} else if b.currency != currency {
			return nil, apperror.Validation("mixed_currency", "all plans must be priced in the same currency")
		}
		qty := int64(it.Quantity)
		b.subtotal += plan.PriceAmount * qty
		cost += plan.CostAmount * qty
		b.skus = append(b.skus, plan.SKU)
		scopes[plan.ScopeTag] = true
	}
	b.floor = discount.Floor(cost, s.pricing.MinimumProfitMargin)

	for scope := range scopes {
		b.scopes = append(b.scopes, scope)
	}
	sort.Strings(b.scopes)
	return b, nil
}

// validateDiscount checks code against every scope in the basket.
func (s *Service) validateDiscount(ctx context.Context, code, email, transactionID string, scopes []string) (*models.DiscountCode, error) {
	if !s.features.DiscountsEnabled {
		return nil, apperror.Validation("discounts_disabled", "discount codes are not available right now")
	}

	var dc *models.DiscountCode
	for _, scope := range scopes {
		var err error
		dc, err = s.discounts.Validate(ctx, discount.ValidateInput{
			Code:          code,
			Email:         email,
			TransactionID: transactionID,
			Scope:         scope,
		})
		if err != nil {
			return nil, err
		}
	}
	if dc == nil {
		return nil, discount.ErrCodeNotFound
	}
	return dc, nil
}

func (s *Service) cancelIntent(intentID string) {
	// The request context may already be done.
	ctx := context.Background()
	if err := s.gateway.CancelIntent(ctx, intentID); err != nil {
		var apiErr *payment.APIError
		if errors.As(err, &apiErr) {
			log.Warnf("[Checkout] Processor refused to cancel intent %s: %v", intentID, err)
			return
		}
		log.Errorf("[Checkout] Failed to cancel intent %s: %v", intentID, err)
	}
}
