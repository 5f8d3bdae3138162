package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/roamwire/roamwire/internal/pkg/apperror"
	"github.com/roamwire/roamwire/internal/pkg/metrics"
)

// ErrStillParked fails a replay attempt whose event is still waiting for its
// order, so the queue retries it with backoff.
var ErrStillParked = errors.New("webhook event still parked")

func (m *Manager) processReplayWebhookJob(ctx context.Context, job *Job) error {
	payload, err := ReplayWebhookJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid replay payload: %w", err)
	}

	res, err := m.replayer.Replay(ctx, payload.Source, payload.EventID)
	if err != nil {
		metrics.ReplayJobs.WithLabelValues("error").Inc()
		if apperror.IsKind(err, apperror.KindNotFound) || apperror.IsKind(err, apperror.KindValidation) {
			// Nothing a retry could fix.
			log.Warnf("[Replay] Dropping %s event %s: %v", payload.Source, payload.EventID, err)
			return nil
		}
		return err
	}

	metrics.ReplayJobs.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome.Pending() {
		return fmt.Errorf("%w: %s event %s: %s", ErrStillParked, payload.Source, payload.EventID, res.Reason)
	}
	log.Infof("[Replay] %s event %s: %s", payload.Source, payload.EventID, res.Outcome)
	return nil
}

func (m *Manager) processHealNotificationsJob(ctx context.Context, job *Job) error {
	payload, err := HealNotificationsJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}

	sent, err := m.replayer.HealNotifications(ctx, time.Duration(payload.IdleSeconds)*time.Second, payload.Limit)
	if err != nil {
		return err
	}
	if sent > 0 {
		log.Infof("[Replay] Sent %d pending activation emails", sent)
	}
	return nil
}

func (m *Manager) processPurgeReservationsJob(ctx context.Context, job *Job) error {
	purged, err := m.reservations.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		log.Infof("[Replay] Purged %d expired discount reservations", purged)
	}
	return nil
}
