package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
)

const maxErrorLength = 2000

// Ledger deduplicates inbound webhook events by (source, event id) and tracks
// their processing outcome.
type Ledger struct {
	repo        Repository
	maxAttempts int
	now         func() time.Time
}

// AdmitInput is a normalized webhook delivery about to be processed.
type AdmitInput struct {
	Source           string
	EventID          string
	EventType        string
	Payload          []byte
	TransactionID    string
	PaymentRef       string
	ProviderOrderRef string
}

// Admission reports what the ledger knows about an event after Admit.
type Admission struct {
	Event            *models.WebhookEvent
	Created          bool
	AlreadyProcessed bool
	// Exhausted is set when an unprocessed event has used up its attempts.
	Exhausted bool
}

func New(repo Repository, maxAttempts int) *Ledger {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Ledger{
		repo:        repo,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func NewFromDB(db *gorm.DB, maxAttempts int) *Ledger {
	return New(NewRepository(db), maxAttempts)
}

// SetClock replaces the time source. Used by tests.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Ledger) MaxAttempts() int {
	return l.maxAttempts
}

// Admit records the event if it is new and otherwise returns the stored row.
// Errors are always transient: the sender must retry.
func (l *Ledger) Admit(ctx context.Context, in AdmitInput) (*Admission, error) {
	source := strings.ToLower(strings.TrimSpace(in.Source))
	eventID := strings.TrimSpace(in.EventID)
	if source == "" || eventID == "" {
		return nil, apperror.Validation("missing_event_id", "event id and source are required")
	}

	payload := string(in.Payload)
	if strings.TrimSpace(payload) == "" {
		payload = "{}"
	}

	event := &models.WebhookEvent{
		Source:           source,
		EventID:          eventID,
		EventType:        strings.TrimSpace(in.EventType),
		TransactionID:    in.TransactionID,
		PaymentRef:       in.PaymentRef,
		ProviderOrderRef: in.ProviderOrderRef,
		PayloadJSON:      payload,
	}

	created, stored, err := l.repo.CreateIfNotExists(ctx, event)
	if err != nil {
		return nil, apperror.Transient(err, "webhook ledger unavailable")
	}

	adm := &Admission{
		Event:            stored,
		Created:          created,
		AlreadyProcessed: stored.Processed,
		Exhausted:        !stored.Processed && stored.ProcessingAttempts >= l.maxAttempts,
	}
	if adm.Exhausted {
		log.Warnf("[Ledger] %s event %s exhausted after %d attempts: %s", source, eventID, stored.ProcessingAttempts, stored.ProcessingError)
	}
	return adm, nil
}

// MarkProcessed records one processing attempt. Pass the order transaction as
// tx so the outcome commits together with the state change. Unsuccessful
// attempts count towards the cap, so only use ok=false for events that cannot
// be applied yet (parked or deferred) or never will be.
func (l *Ledger) MarkProcessed(ctx context.Context, tx *gorm.DB, source, eventID string, ok bool, cause error) error {
	repo := l.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}

	updated, err := repo.MarkProcessed(ctx, source, eventID, ok, errorText(cause), l.now())
	if err != nil {
		return apperror.Transient(err, "webhook ledger unavailable")
	}
	if !updated {
		log.Debugf("[Ledger] %s event %s was already finalized", source, eventID)
	}
	return nil
}

// RecordError keeps the cause of a transient failure on the event. The event
// stays eligible for redelivery and replay: no attempt is counted.
func (l *Ledger) RecordError(ctx context.Context, source, eventID string, cause error) error {
	if err := l.repo.RecordError(ctx, source, eventID, errorText(cause), l.now()); err != nil {
		return apperror.Transient(err, "webhook ledger unavailable")
	}
	return nil
}

func errorText(cause error) string {
	if cause == nil {
		return ""
	}
	msg := cause.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return msg
}

func (l *Ledger) Get(ctx context.Context, source, eventID string) (*models.WebhookEvent, error) {
	event, err := l.repo.Find(ctx, source, eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("event_not_found", "webhook event not found")
		}
		return nil, apperror.Transient(err, "webhook ledger unavailable")
	}
	return event, nil
}

// ListParked returns unprocessed events with attempts left that have been idle
// for at least idle. These are the candidates for replay.
func (l *Ledger) ListParked(ctx context.Context, idle time.Duration, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	events, err := l.repo.ListUnprocessed(ctx, l.maxAttempts, l.now().Add(-idle), limit)
	if err != nil {
		return nil, apperror.Transient(err, "webhook ledger unavailable")
	}
	return events, nil
}
