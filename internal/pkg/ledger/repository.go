package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roamwire/roamwire/app/models"
)

// Repository provides the DB operations used by the ledger.
type Repository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	Find(ctx context.Context, source, eventID string) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, source, eventID string, processed bool, processingError string, at time.Time) (bool, error)
	RecordError(ctx context.Context, source, eventID string, processingError string, at time.Time) error
	ListUnprocessed(ctx context.Context, maxAttempts int, idleSince time.Time, limit int) ([]models.WebhookEvent, error)
	WithTx(tx *gorm.DB) Repository
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	created := tx.RowsAffected > 0

	// Always return the stored row; on conflict the caller needs its processing state.
	stored, err := r.Find(ctx, event.Source, event.EventID)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (r *gormRepository) Find(ctx context.Context, source, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("source = ? AND event_id = ?", source, eventID).
		First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) MarkProcessed(ctx context.Context, source, eventID string, processed bool, processingError string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"processing_attempts": gorm.Expr("processing_attempts + 1"),
		"processed":           processed,
		"processing_error":    processingError,
		"updated_at":          at,
	}
	if processed {
		updates["processed_at"] = at
	}

	// A row that another worker already finalized is left untouched.
	tx := r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("source = ? AND event_id = ? AND processed = ?", source, eventID, false).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// RecordError stores the last failure without counting an attempt.
func (r *gormRepository) RecordError(ctx context.Context, source, eventID string, processingError string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("source = ? AND event_id = ? AND processed = ?", source, eventID, false).
		Updates(map[string]interface{}{
			"processing_error": processingError,
			"updated_at":       at,
		}).Error
}

func (r *gormRepository) ListUnprocessed(ctx context.Context, maxAttempts int, idleSince time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = ? AND processing_attempts < ? AND updated_at <= ?", false, maxAttempts, idleSince).
		Order("updated_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
