package discount

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
)

var (
	ErrCodeNotFound  = apperror.Validation("discount_not_found", "code not found")
	ErrCodeExpired   = apperror.Validation("discount_expired", "code expired")
	ErrCodeUsed      = apperror.Validation("discount_used", "code already used")
	ErrCodeScope     = apperror.Validation("discount_scope", "code not valid for this product")
	ErrCodeBound     = apperror.Validation("discount_bound", "code is bound to another customer")
	ErrCodeInUse     = apperror.Conflict("discount_in_use", "code already in use")
	ErrLimitExceeded = apperror.Fatal("discount_limit_exceeded", "redemption would exceed the code's maximum")
)

// Manager owns discount codes, their single reservation slot and redemptions.
// Mutual exclusion comes from unique constraints; there is no read-then-write.
type Manager struct {
	db  *gorm.DB
	now func() time.Time
}

type ValidateInput struct {
	Code          string
	Email         string
	TransactionID string
	Scope         string
}

type ReserveInput struct {
	Code              string
	PaymentAttemptRef string
	TransactionID     string
	TTL               time.Duration
}

type RedeemInput struct {
	Code              string
	PaymentAttemptRef string
	TransactionID     string
	CustomerEmail     string
	// Subtotal and Floor are the order's stored prices; the discount is recomputed from them.
	Subtotal int64
	Floor    int64
	// Charged is the discount the customer actually paid with.
	Charged int64
}

func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create stores a new code in its normalized form.
func (m *Manager) Create(ctx context.Context, code *models.DiscountCode) error {
	code.Code = models.NormalizeDiscountCode(code.Code)
	if code.AppliesTo == "" {
		code.AppliesTo = models.DISCOUNT_SCOPE_ALL
	}
	if err := code.Validate(); err != nil {
		return apperror.Validation("invalid_discount", err.Error())
	}
	if err := m.db.WithContext(ctx).Create(code).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.Conflict("discount_exists", "code already exists")
		}
		return apperror.Transient(err, "discount store unavailable")
	}
	return nil
}

func (m *Manager) find(ctx context.Context, tx *gorm.DB, code string) (*models.DiscountCode, error) {
	db := m.db
	if tx != nil {
		db = tx
	}

	var dc models.DiscountCode
	err := db.WithContext(ctx).Where("code = ?", models.NormalizeDiscountCode(code)).First(&dc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, apperror.Transient(err, "discount store unavailable")
	}
	return &dc, nil
}

// Validate checks that code could be applied for this customer and scope.
// It never writes.
func (m *Manager) Validate(ctx context.Context, in ValidateInput) (*models.DiscountCode, error) {
	if strings.TrimSpace(in.Code) == "" {
		return nil, ErrCodeNotFound
	}

	dc, err := m.find(ctx, nil, in.Code)
	if err != nil {
		return nil, err
	}

	switch {
	case !dc.IsActive:
		return nil, ErrCodeNotFound
	case dc.IsExpired(m.now()):
		return nil, ErrCodeExpired
	case dc.RemainingRedemptions() == 0:
		return nil, ErrCodeUsed
	case !dc.AppliesToScope(in.Scope):
		return nil, ErrCodeScope
	case dc.BoundEmail != "" && !strings.EqualFold(dc.BoundEmail, strings.TrimSpace(in.Email)):
		return nil, ErrCodeBound
	case dc.BoundTransactionID != "" && dc.BoundTransactionID != in.TransactionID:
		return nil, ErrCodeBound
	}
	return dc, nil
}

// Reserve claims the code's single reservation slot for a payment attempt.
// The slot is taken over only when it is free, expired, or already ours;
// otherwise ErrCodeInUse is returned.
func (m *Manager) Reserve(ctx context.Context, in ReserveInput) (*models.DiscountReservation, error) {
	if in.PaymentAttemptRef == "" {
		return nil, apperror.Validation("missing_payment_attempt", "payment attempt reference is required")
	}
	dc, err := m.find(ctx, nil, in.Code)
	if err != nil {
		return nil, err
	}

	now := m.now()
	reservation := &models.DiscountReservation{
		DiscountCodeID:    dc.ID,
		PaymentAttemptRef: in.PaymentAttemptRef,
		TransactionID:     in.TransactionID,
		ExpiresAt:         now.Add(in.TTL),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	res := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "discount_code_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payment_attempt_ref", "transaction_id", "expires_at", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{
				SQL:  "discount_reservations.payment_attempt_ref = excluded.payment_attempt_ref OR discount_reservations.expires_at <= ?",
				Vars: []interface{}{now},
			},
		}},
	}).Create(reservation)
	if res.Error != nil {
		return nil, apperror.Transient(res.Error, "discount store unavailable")
	}
	if res.RowsAffected == 0 {
		return nil, ErrCodeInUse
	}

	var stored models.DiscountReservation
	if err := m.db.WithContext(ctx).Where("discount_code_id = ?", dc.ID).First(&stored).Error; err != nil {
		return nil, apperror.Transient(err, "discount store unavailable")
	}
	return &stored, nil
}

// Redeem permanently consumes the code for a paid attempt. Calling it again
// for the same attempt returns the existing redemption with already=true.
// When tx is given the work runs in a savepoint so a failed redemption never
// aborts the caller's transaction.
func (m *Manager) Redeem(ctx context.Context, tx *gorm.DB, in RedeemInput) (redemption *models.DiscountRedemption, already bool, err error) {
	if in.PaymentAttemptRef == "" {
		return nil, false, apperror.Validation("missing_payment_attempt", "payment attempt reference is required")
	}

	run := func(tx *gorm.DB) error {
		dc, err := m.find(ctx, tx, in.Code)
		if err != nil {
			if errors.Is(err, ErrCodeNotFound) {
				return apperror.Fatal("discount_missing", "paid order references an unknown discount code")
			}
			return err
		}

		quote := Apply(in.Subtotal, in.Floor, dc.PercentOff)
		if quote.DiscountAmount != in.Charged {
			log.Warnf("[Discount] %s for %s: recomputed discount %d differs from charged %d", dc.Code, in.TransactionID, quote.DiscountAmount, in.Charged)
		}

		row := &models.DiscountRedemption{
			DiscountCodeID:    dc.ID,
			PaymentAttemptRef: in.PaymentAttemptRef,
			TransactionID:     in.TransactionID,
			CustomerEmail:     in.CustomerEmail,
			DiscountAmount:    quote.DiscountAmount,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_attempt_ref"}},
			DoNothing: true,
		}).Create(row)
		if res.Error != nil {
			return apperror.Transient(res.Error, "discount store unavailable")
		}
		if res.RowsAffected == 0 {
			already = true
			var existing models.DiscountRedemption
			if err := tx.Where("payment_attempt_ref = ?", in.PaymentAttemptRef).First(&existing).Error; err != nil {
				return apperror.Transient(err, "discount store unavailable")
			}
			redemption = &existing
			return nil
		}

		res = tx.Model(&models.DiscountCode{}).
			Where("id = ? AND redeemed_count < max_redemptions", dc.ID).
			Updates(map[string]interface{}{
				"redeemed_count": gorm.Expr("redeemed_count + 1"),
				"updated_at":     m.now(),
			})
		if res.Error != nil {
			return apperror.Transient(res.Error, "discount store unavailable")
		}
		if res.RowsAffected == 0 {
			return ErrLimitExceeded
		}

		if err := tx.Where("discount_code_id = ? AND payment_attempt_ref = ?", dc.ID, in.PaymentAttemptRef).
			Delete(&models.DiscountReservation{}).Error; err != nil {
			return apperror.Transient(err, "discount store unavailable")
		}

		redemption = row
		return nil
	}

	db := m.db
	if tx != nil {
		db = tx
	}
	if err := db.WithContext(ctx).Transaction(run); err != nil {
		return nil, false, err
	}
	return redemption, already, nil
}

// Release frees any reservation held by the attempt. It is a no-op when none exists.
func (m *Manager) Release(ctx context.Context, tx *gorm.DB, paymentAttemptRef string) (int64, error) {
	if paymentAttemptRef == "" {
		return 0, nil
	}
	db := m.db
	if tx != nil {
		db = tx
	}

	res := db.WithContext(ctx).Where("payment_attempt_ref = ?", paymentAttemptRef).Delete(&models.DiscountReservation{})
	if res.Error != nil {
		return 0, apperror.Transient(res.Error, "discount store unavailable")
	}
	return res.RowsAffected, nil
}

// PurgeExpired deletes reservation rows that are already logically absent.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	res := m.db.WithContext(ctx).Where("expires_at <= ?", m.now()).Delete(&models.DiscountReservation{})
	if res.Error != nil {
		return 0, apperror.Transient(res.Error, "discount store unavailable")
	}
	return res.RowsAffected, nil
}

// ActiveReservation returns the live reservation on code, or nil.
func (m *Manager) ActiveReservation(ctx context.Context, code string) (*models.DiscountReservation, error) {
	dc, err := m.find(ctx, nil, code)
	if err != nil {
		return nil, err
	}

	var r models.DiscountReservation
	err = m.db.WithContext(ctx).
		Where("discount_code_id = ? AND expires_at > ?", dc.ID, m.now()).
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperror.Transient(err, "discount store unavailable")
	}
	return &r, nil
}
