package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/apperror"
	"github.com/roamwire/roamwire/internal/pkg/discount"
	"github.com/roamwire/roamwire/internal/pkg/ledger"
	"github.com/roamwire/roamwire/internal/pkg/mail"
	"github.com/roamwire/roamwire/internal/pkg/metrics"
	"github.com/roamwire/roamwire/internal/pkg/orders"
	"github.com/roamwire/roamwire/internal/pkg/webhook"
)

const (
	DefaultNotifyTimeout = 5 * time.Second
	maxCASAttempts       = 3
)

// Outcome summarises what happened to one event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeParked    Outcome = "parked"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeExhausted Outcome = "exhausted"
)

// Pending reports whether the event is still waiting for a replay.
func (o Outcome) Pending() bool {
	return o == OutcomeParked || o == OutcomeDeferred
}

type Result struct {
	Outcome       Outcome
	EventID       string
	TransactionID string
	From          string
	To            string
	Reason        string
	Notified      bool
}

var errStaleState = errors.New("order status changed concurrently")

// parkError rolls back the order transaction and leaves the event unprocessed.
type parkError struct {
	outcome Outcome
	reason  string
}

func (e *parkError) Error() string {
	return e.reason
}

// Engine applies normalized webhook events to orders. Every event runs in one
// database transaction that covers the status change, its side effects and
// the ledger outcome.
type Engine struct {
	db            *gorm.DB
	ledger        *ledger.Ledger
	orders        *orders.Store
	discounts     *discount.Manager
	notifier      mail.Notifier
	notifyTimeout time.Duration
}

func NewEngine(db *gorm.DB, l *ledger.Ledger, store *orders.Store, discounts *discount.Manager, notifier mail.Notifier, notifyTimeout time.Duration) *Engine {
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	return &Engine{
		db:            db,
		ledger:        l,
		orders:        store,
		discounts:     discounts,
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
	}
}

// Handle admits ev to the ledger and reconciles it. Duplicates and exhausted
// events are acknowledged without touching the order.
func (e *Engine) Handle(ctx context.Context, ev *webhook.Event) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues(ev.Source).Observe(time.Since(start).Seconds())
	}()

	adm, err := e.ledger.Admit(ctx, ledger.AdmitInput{
		Source:           ev.Source,
		EventID:          ev.EventID,
		EventType:        ev.EventType,
		Payload:          ev.Payload,
		TransactionID:    ev.Correlation.TransactionID,
		PaymentRef:       ev.Correlation.PaymentRef,
		ProviderOrderRef: ev.Correlation.ProviderOrderRef,
	})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.Source, "error").Inc()
		return nil, err
	}

	switch {
	case adm.AlreadyProcessed:
		log.Debugf("[Reconcile] %s event %s already processed", ev.Source, ev.EventID)
		return e.finish(ev, &Result{Outcome: OutcomeDuplicate, EventID: ev.EventID}), nil
	case adm.Exhausted:
		return e.finish(ev, &Result{Outcome: OutcomeExhausted, EventID: ev.EventID, Reason: adm.Event.ProcessingError}), nil
	}

	return e.process(ctx, ev)
}

// Replay re-runs a stored, still unprocessed event from its saved payload.
func (e *Engine) Replay(ctx context.Context, source, eventID string) (*Result, error) {
	stored, err := e.ledger.Get(ctx, source, eventID)
	if err != nil {
		return nil, err
	}

	switch {
	case stored.Processed:
		return &Result{Outcome: OutcomeDuplicate, EventID: eventID}, nil
	case stored.ProcessingAttempts >= e.ledger.MaxAttempts():
		return &Result{Outcome: OutcomeExhausted, EventID: eventID, Reason: stored.ProcessingError}, nil
	}

	ev, err := webhook.Normalize(stored.Source, []byte(stored.PayloadJSON))
	if err != nil {
		if markErr := e.ledger.MarkProcessed(ctx, nil, source, eventID, false, err); markErr != nil {
			log.Errorf("[Reconcile] Failed to record replay error for %s event %s: %v", source, eventID, markErr)
		}
		return nil, err
	}
	return e.process(ctx, ev)
}

func (e *Engine) process(ctx context.Context, ev *webhook.Event) (*Result, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		res, err := e.apply(ctx, ev)

		var park *parkError
		switch {
		case err == nil:
			return e.finish(ev, res), nil
		case errors.Is(err, errStaleState):
			log.Debugf("[Reconcile] %s event %s lost a status race (attempt %d)", ev.Source, ev.EventID, attempt)
			continue
		case errors.As(err, &park):
			if markErr := e.ledger.MarkProcessed(ctx, nil, ev.Source, ev.EventID, false, err); markErr != nil {
				return nil, markErr
			}
			log.Infof("[Reconcile] %s event %s %s: %s", ev.Source, ev.EventID, park.outcome, park.reason)
			return e.finish(ev, &Result{Outcome: park.outcome, EventID: ev.EventID, Reason: park.reason}), nil
		default:
			e.recordFailure(ctx, ev, err)
			return nil, err
		}
	}

	err := apperror.Transient(errStaleState, "order is being updated, retry later")
	e.recordFailure(ctx, ev, err)
	return nil, err
}

// recordFailure keeps the error on the ledger row. The attempt is not counted:
// the sender's retries and the replay worker must still see the event.
func (e *Engine) recordFailure(ctx context.Context, ev *webhook.Event, cause error) {
	metrics.WebhookEvents.WithLabelValues(ev.Source, "error").Inc()
	log.Errorf("[Reconcile] %s event %s failed: %v", ev.Source, ev.EventID, cause)
	if apperror.IsKind(cause, apperror.KindFatal) {
		log.Errorf("[Reconcile] %s", apperror.StackTrace(cause))
	}
	if err := e.ledger.RecordError(ctx, ev.Source, ev.EventID, cause); err != nil {
		log.Errorf("[Reconcile] Failed to record error for %s event %s: %v", ev.Source, ev.EventID, err)
	}
}

func (e *Engine) finish(ev *webhook.Event, res *Result) *Result {
	metrics.WebhookEvents.WithLabelValues(ev.Source, string(res.Outcome)).Inc()
	return res
}

// apply runs one attempt of the reconciliation in a single transaction.
func (e *Engine) apply(ctx context.Context, ev *webhook.Event) (*Result, error) {
	res := &Result{EventID: ev.EventID}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := e.orders.Resolve(ctx, tx, ev.Correlation)
		if err != nil {
			if apperror.IsKind(err, apperror.KindNotFound) {
				return &parkError{outcome: OutcomeParked, reason: "unresolved"}
			}
			return err
		}
		res.TransactionID = order.TransactionID
		res.From = order.Status

		e.attachProviderRef(ctx, tx, order, ev.Correlation.ProviderOrderRef)

		decision := Decide(order.Status, ev.Kind, ev.Confirmation != nil)
		res.Reason = decision.Reason

		if ev.Kind == webhook.KindPaymentCaptured && models.IsTerminalOrderStatus(order.Status) {
			log.Errorf("[Reconcile] Payment %s captured on %s order %s (%s event %s): refund or fulfil manually",
				paymentAttemptRef(order, ev), order.Status, order.TransactionID, ev.Source, ev.EventID)
		}

		switch decision.Action {
		case ActionDefer:
			return &parkError{outcome: OutcomeDeferred, reason: decision.Reason}
		case ActionNoop:
			res.Outcome = OutcomeNoop
		case ActionApply:
			if err := e.transition(ctx, tx, order, ev, decision); err != nil {
				return err
			}
			res.Outcome = OutcomeApplied
			res.To = decision.To
		}

		if models.IsFulfilledOrderStatus(order.Status) && !order.HasNotification(models.NOTIFICATION_KIND_ACTIVATION_EMAIL) {
			sent, err := e.notifyActivation(ctx, tx, order)
			if err != nil {
				return err
			}
			res.Notified = sent.delivered
		}

		return e.ledger.MarkProcessed(ctx, tx, ev.Source, ev.EventID, true, nil)
	})
	if err != nil {
		return nil, err
	}

	if res.Outcome == OutcomeApplied {
		metrics.OrderTransitions.WithLabelValues(res.From, res.To).Inc()
		log.Infof("[Reconcile] Order %s %s -> %s (%s event %s)", res.TransactionID, res.From, res.To, ev.Source, ev.EventID)
	} else {
		log.Debugf("[Reconcile] Order %s unchanged by %s event %s: %s", res.TransactionID, ev.Source, ev.EventID, res.Reason)
	}
	return res, nil
}

// attachProviderRef stores the vendor reference in a savepoint; a reference
// already owned by another order is logged and ignored.
func (e *Engine) attachProviderRef(ctx context.Context, tx *gorm.DB, order *models.Order, ref string) {
	if ref == "" || order.ProviderOrderRef != nil {
		return
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return e.orders.AttachProviderOrderRef(ctx, sp, order.TransactionID, ref)
	})
	if err != nil {
		log.Warnf("[Reconcile] Could not attach provider ref %s to order %s: %v", ref, order.TransactionID, err)
		return
	}
	order.ProviderOrderRef = &ref
}

// transition performs the status CAS and the side effects of entering the new status.
func (e *Engine) transition(ctx context.Context, tx *gorm.DB, order *models.Order, ev *webhook.Event, d Decision) error {
	t := orders.Transition{
		TransactionID: order.TransactionID,
		From:          d.From,
		To:            d.To,
		Confirmation:  ev.Confirmation,
	}
	if models.IsTerminalOrderStatus(d.To) {
		t.Reason = ev.EventType
	}

	applied, err := e.orders.Transition(ctx, tx, t)
	if err != nil {
		return err
	}
	if !applied {
		return errStaleState
	}

	order.Status = d.To
	if d.To == models.ORDER_STATUS_PROVIDER_FULFILLED {
		order.ConfirmationICCID = &ev.Confirmation.ICCID
		order.ConfirmationActivationCode = &ev.Confirmation.ActivationCode
		order.ConfirmationSMDPAddress = &ev.Confirmation.SMDPAddress
	}

	if ev.Kind == webhook.KindPaymentCaptured && ev.Amount > 0 && ev.Amount != order.PriceAmount {
		log.Warnf("[Reconcile] Order %s captured %d %s but was priced %d %s", order.TransactionID, ev.Amount, ev.Currency, order.PriceAmount, order.PriceCurrency)
	}

	attemptRef := paymentAttemptRef(order, ev)
	switch {
	case d.To == models.ORDER_STATUS_PROCESSING && order.DiscountCode != "":
		return e.redeemDiscount(ctx, tx, order, attemptRef)
	case models.IsTerminalOrderStatus(d.To):
		released, err := e.discounts.Release(ctx, tx, attemptRef)
		if err != nil {
			return err
		}
		if released > 0 {
			log.Infof("[Reconcile] Released discount reservation of order %s", order.TransactionID)
		}
	}
	return nil
}

// redeemDiscount consumes the order's code. A refused redemption cannot undo
// a captured payment, so it is recorded on the order and the transition stands.
func (e *Engine) redeemDiscount(ctx context.Context, tx *gorm.DB, order *models.Order, attemptRef string) error {
	_, already, err := e.discounts.Redeem(ctx, tx, discount.RedeemInput{
		Code:              order.DiscountCode,
		PaymentAttemptRef: attemptRef,
		TransactionID:     order.TransactionID,
		CustomerEmail:     order.CustomerEmail,
		Subtotal:          order.SubtotalAmount,
		Floor:             order.CostFloorAmount,
		Charged:           order.DiscountAmount,
	})
	if err == nil {
		if already {
			log.Debugf("[Reconcile] Discount %s already redeemed for order %s", order.DiscountCode, order.TransactionID)
		}
		return nil
	}
	if !apperror.IsKind(err, apperror.KindFatal) {
		return err
	}

	metrics.DiscountViolations.Inc()
	log.Errorf("[Reconcile] DISCOUNT INVARIANT VIOLATED: order %s paid with %s: %v", order.TransactionID, order.DiscountCode, err)
	if err := e.orders.SetStatusReason(ctx, tx, order.TransactionID, apperror.CodeOf(err)+": "+order.DiscountCode); err != nil {
		return err
	}
	_, err = e.discounts.Release(ctx, tx, attemptRef)
	return err
}

func paymentAttemptRef(order *models.Order, ev *webhook.Event) string {
	if order.PaymentRef != nil && *order.PaymentRef != "" {
		return *order.PaymentRef
	}
	return ev.Correlation.PaymentRef
}

type notifyResult struct {
	delivered bool
	id        string
	err       error
}

// notifyActivation sends the activation email at most once per order. A
// failed send releases the claim so a later attempt can retry; it never fails
// the surrounding transaction.
func (e *Engine) notifyActivation(ctx context.Context, tx *gorm.DB, order *models.Order) (notifyResult, error) {
	kind := models.NOTIFICATION_KIND_ACTIVATION_EMAIL

	conf := order.Confirmation()
	if conf == nil {
		return notifyResult{}, apperror.Fatal("missing_confirmation", "fulfilled order "+order.TransactionID+" has no confirmation")
	}

	claimed, err := e.orders.ClaimNotification(ctx, tx, order.TransactionID, kind)
	if err != nil {
		return notifyResult{}, err
	}
	if !claimed {
		return notifyResult{}, nil
	}

	// The send runs inside the event transaction, holding the order row and the
	// pending claim, so notifyTimeout bounds how long other deliveries for the
	// same order wait.
	sendCtx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
	defer cancel()

	id, sendErr := e.notifier.SendActivationEmail(sendCtx, mail.ActivationEmail{
		TransactionID: order.TransactionID,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		Confirmation:  *conf,
	})
	if sendErr != nil {
		metrics.Notifications.WithLabelValues(kind, "failed").Inc()
		log.Errorf("[Reconcile] Activation email for order %s failed: %v", order.TransactionID, sendErr)
		if err := e.orders.ReleaseNotification(ctx, tx, order.TransactionID, kind); err != nil {
			return notifyResult{}, err
		}
		return notifyResult{err: sendErr}, nil
	}

	metrics.Notifications.WithLabelValues(kind, "sent").Inc()
	log.Infof("[Reconcile] Activation email %s sent for order %s", id, order.TransactionID)
	if err := e.orders.CompleteNotification(ctx, tx, order.TransactionID, kind, id); err != nil {
		return notifyResult{}, err
	}
	order.NotificationsSent = append(order.NotificationsSent, kind)
	return notifyResult{delivered: true, id: id}, nil
}

// ResendActivation sends the activation email for a fulfilled order that has
// none on record. With force an existing record is replaced and the email is
// sent again. It returns the notification id, or "" when nothing was sent.
func (e *Engine) ResendActivation(ctx context.Context, transactionID string, force bool) (string, error) {
	var id string
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := e.orders.Resolve(ctx, tx, orders.Correlation{TransactionID: transactionID})
		if err != nil {
			if apperror.IsKind(err, apperror.KindNotFound) {
				return apperror.NotFound("order_not_found", "order not found")
			}
			return err
		}
		if !models.IsFulfilledOrderStatus(order.Status) {
			return apperror.Conflict("order_not_fulfilled", "order has no eSIM to send yet")
		}

		if force {
			if err := e.orders.ReleaseNotification(ctx, tx, order.TransactionID, models.NOTIFICATION_KIND_ACTIVATION_EMAIL); err != nil {
				return err
			}
		}

		res, err := e.notifyActivation(ctx, tx, order)
		if err != nil {
			return err
		}
		if res.err != nil {
			return apperror.Transient(res.err, "activation email could not be sent")
		}
		id = res.id
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// HealNotifications retries activation emails for fulfilled orders that have
// none on record and have been idle for at least idle. It returns how many
// emails went out.
func (e *Engine) HealNotifications(ctx context.Context, idle time.Duration, limit int) (int, error) {
	pending, err := e.orders.ListUnnotified(ctx, models.NOTIFICATION_KIND_ACTIVATION_EMAIL, time.Now().UTC().Add(-idle), limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, order := range pending {
		id, err := e.ResendActivation(ctx, order.TransactionID, false)
		if err != nil {
			log.Warnf("[Reconcile] Activation email retry for order %s failed: %v", order.TransactionID, err)
			continue
		}
		if id != "" {
			sent++
		}
	}
	return sent, nil
}
