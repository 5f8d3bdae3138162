package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
)

// Store persists orders. Every status change is a compare-and-swap on the
// status column; there is no in-process locking.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Correlation carries every identifier an inbound event may use to find its order.
type Correlation struct {
	TransactionID    string
	PaymentRef       string
	ProviderOrderRef string
}

func (c Correlation) IsEmpty() bool {
	return c.TransactionID == "" && c.PaymentRef == "" && c.ProviderOrderRef == ""
}

// Transition moves one order from From to To if it is still in From.
type Transition struct {
	TransactionID string
	From          string
	To            string
	Confirmation  *models.Confirmation
	Reason        string
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// Create stores a new PENDING order.
func (s *Store) Create(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if strings.TrimSpace(order.TransactionID) == "" {
		return apperror.Validation("missing_transaction_id", "transaction id is required")
	}
	order.Status = models.ORDER_STATUS_PENDING
	order.ConfirmationICCID = nil
	order.ConfirmationActivationCode = nil
	order.ConfirmationSMDPAddress = nil

	if err := s.conn(ctx, tx).Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.Conflict("order_exists", "an order with this reference already exists")
		}
		return apperror.Transient(err, "order store unavailable")
	}
	return nil
}

// Get loads an order with its delivered notification kinds.
func (s *Store) Get(ctx context.Context, transactionID string) (*models.Order, error) {
	order, err := s.findBy(ctx, nil, "transaction_id", strings.TrimSpace(transactionID))
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperror.NotFound("order_not_found", "order not found")
	}
	return order, nil
}

// Resolve finds the order an event belongs to, trying the transaction id first
// and then the payment and provider references.
func (s *Store) Resolve(ctx context.Context, tx *gorm.DB, c Correlation) (*models.Order, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{"transaction_id", c.TransactionID},
		{"payment_ref", c.PaymentRef},
		{"provider_order_ref", c.ProviderOrderRef},
	}

	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		order, err := s.findBy(ctx, tx, l.column, l.value)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}
	return nil, apperror.NotFound("order_unresolved", "no order matches the event correlation")
}

func (s *Store) findBy(ctx context.Context, tx *gorm.DB, column, value string) (*models.Order, error) {
	var order models.Order
	err := s.conn(ctx, tx).Where(column+" = ?", value).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperror.Transient(err, "order store unavailable")
	}

	kinds, err := s.NotificationKinds(ctx, tx, order.TransactionID)
	if err != nil {
		return nil, err
	}
	order.NotificationsSent = kinds
	return &order, nil
}

// Transition applies t if the order is still in t.From. It returns false when
// another writer moved the order first.
func (s *Store) Transition(ctx context.Context, tx *gorm.DB, t Transition) (bool, error) {
	updates := map[string]interface{}{
		"status":     t.To,
		"updated_at": s.now(),
	}
	if t.Reason != "" {
		updates["status_reason"] = t.Reason
	}

	switch {
	case t.To == models.ORDER_STATUS_PROVIDER_FULFILLED:
		if t.Confirmation == nil || (t.Confirmation.ICCID == "" && t.Confirmation.ActivationCode == "") {
			return false, apperror.Fatal("missing_confirmation", "fulfilled orders require an eSIM confirmation")
		}
		updates["confirmation_iccid"] = t.Confirmation.ICCID
		updates["confirmation_activation_code"] = t.Confirmation.ActivationCode
		updates["confirmation_smdp_address"] = t.Confirmation.SMDPAddress
	case !models.IsFulfilledOrderStatus(t.To):
		updates["confirmation_iccid"] = nil
		updates["confirmation_activation_code"] = nil
		updates["confirmation_smdp_address"] = nil
	}

	res := s.conn(ctx, tx).
		Model(&models.Order{}).
		Where("transaction_id = ? AND status = ?", t.TransactionID, t.From).
		Updates(updates)
	if res.Error != nil {
		return false, apperror.Transient(res.Error, "order store unavailable")
	}
	return res.RowsAffected == 1, nil
}

// AttachProviderOrderRef records the vendor reference unless one is already set.
func (s *Store) AttachProviderOrderRef(ctx context.Context, tx *gorm.DB, transactionID, ref string) error {
	if ref == "" {
		return nil
	}
	err := s.conn(ctx, tx).
		Model(&models.Order{}).
		Where("transaction_id = ? AND provider_order_ref IS NULL", transactionID).
		Updates(map[string]interface{}{"provider_order_ref": ref, "updated_at": s.now()}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperror.Conflict("provider_ref_in_use", "provider order reference belongs to another order")
		}
		return apperror.Transient(err, "order store unavailable")
	}
	return nil
}

func (s *Store) SetStatusReason(ctx context.Context, tx *gorm.DB, transactionID, reason string) error {
	err := s.conn(ctx, tx).
		Model(&models.Order{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]interface{}{"status_reason": reason, "updated_at": s.now()}).Error
	if err != nil {
		return apperror.Transient(err, "order store unavailable")
	}
	return nil
}

// ClaimNotification reserves the right to send kind for the order. Only one
// caller ever gets true for the same pair until the claim is released.
func (s *Store) ClaimNotification(ctx context.Context, tx *gorm.DB, transactionID, kind string) (bool, error) {
	res := s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "transaction_id"},
			{Name: "kind"},
		},
		DoNothing: true,
	}).Create(&models.OrderNotification{TransactionID: transactionID, Kind: kind})
	if res.Error != nil {
		return false, apperror.Transient(res.Error, "order store unavailable")
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) CompleteNotification(ctx context.Context, tx *gorm.DB, transactionID, kind, notificationID string) error {
	err := s.conn(ctx, tx).
		Model(&models.OrderNotification{}).
		Where("transaction_id = ? AND kind = ?", transactionID, kind).
		Update("notification_id", notificationID).Error
	if err != nil {
		return apperror.Transient(err, "order store unavailable")
	}
	return nil
}

// ReleaseNotification drops a claim after a failed send so a later attempt can retry.
func (s *Store) ReleaseNotification(ctx context.Context, tx *gorm.DB, transactionID, kind string) error {
	err := s.conn(ctx, tx).
		Where("transaction_id = ? AND kind = ?", transactionID, kind).
		Delete(&models.OrderNotification{}).Error
	if err != nil {
		return apperror.Transient(err, "order store unavailable")
	}
	return nil
}

func (s *Store) NotificationKinds(ctx context.Context, tx *gorm.DB, transactionID string) ([]string, error) {
	var kinds []string
	err := s.conn(ctx, tx).
		Model(&models.OrderNotification{}).
		Where("transaction_id = ?", transactionID).
		Order("kind ASC").
		Pluck("kind", &kinds).Error
	if err != nil {
		return nil, apperror.Transient(err, "order store unavailable")
	}
	return kinds, nil
}

// ListUnnotified returns fulfilled orders that have no notification of kind
// and were last touched before idleSince. Used to retry failed sends.
func (s *Store) ListUnnotified(ctx context.Context, kind string, idleSince time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	sent := s.db.Model(&models.OrderNotification{}).
		Select("transaction_id").
		Where("kind = ?", kind)

	var result []models.Order
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.ORDER_STATUS_PROVIDER_FULFILLED, models.ORDER_STATUS_ACTIVE}).
		Where("updated_at <= ?", idleSince).
		Where("transaction_id NOT IN (?)", sent).
		Order("updated_at ASC").
		Limit(limit).
		Find(&result).Error
	if err != nil {
		return nil, apperror.Transient(err, "order store unavailable")
	}
	return result, nil
}
