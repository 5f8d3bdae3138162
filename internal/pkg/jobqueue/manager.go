package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/reconcile"
)

// Replayer is the part of the reconciliation engine driven by background jobs.
type Replayer interface {
	Replay(ctx context.Context, source, eventID string) (*reconcile.Result, error)
	HealNotifications(ctx context.Context, idle time.Duration, limit int) (int, error)
}

// ParkedEvents lists ledger events that are waiting for a replay.
type ParkedEvents interface {
	ListParked(ctx context.Context, idle time.Duration, limit int) ([]models.WebhookEvent, error)
}

// ReservationPurger deletes expired discount reservations.
type ReservationPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type ManagerConfig struct {
	Workers        int
	ReplayInterval time.Duration
	ReplayIdle     time.Duration
	ReplayBatch    int
	PurgeInterval  time.Duration
}

// Manager owns the job queue and the tickers that feed it.
type Manager struct {
	queue        *Queue
	cfg          ManagerConfig
	replayer     Replayer
	parked       ParkedEvents
	reservations ReservationPurger
	replayTicker *time.Ticker
	purgeTicker  *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
}

func NewManager(client *redis.Client, cfg ManagerConfig, replayer Replayer, parked ParkedEvents, reservations ReservationPurger) *Manager {
	if cfg.ReplayInterval <= 0 {
		cfg.ReplayInterval = time.Minute
	}
	if cfg.ReplayBatch <= 0 {
		cfg.ReplayBatch = 100
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = 10 * time.Minute
	}

	m := &Manager{
		queue:        NewQueue(client, cfg.Workers),
		cfg:          cfg,
		replayer:     replayer,
		parked:       parked,
		reservations: reservations,
		stopCh:       make(chan struct{}),
	}
	m.queue.Handle(JobTypeReplayWebhook, m.processReplayWebhookJob)
	m.queue.Handle(JobTypeHealNotifications, m.processHealNotificationsJob)
	m.queue.Handle(JobTypePurgeReservations, m.processPurgeReservationsJob)
	return m
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.replayTicker = time.NewTicker(m.cfg.ReplayInterval)
	m.wg.Add(1)
	go m.replayWorker()

	m.purgeTicker = time.NewTicker(m.cfg.PurgeInterval)
	m.wg.Add(1)
	go m.purgeWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.replayTicker != nil {
		m.replayTicker.Stop()
	}
	if m.purgeTicker != nil {
		m.purgeTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// replayWorker periodically queues parked webhook events and the email retry pass.
func (m *Manager) replayWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started replay worker (interval: %s, idle: %s)", m.cfg.ReplayInterval, m.cfg.ReplayIdle)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Replay worker stopping")
			return
		case <-m.replayTicker.C:
			ctx := context.Background()
			if _, err := m.EnqueueParked(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Error queueing parked events: %v", err)
			}
			payload := HealNotificationsJobPayload{IdleSeconds: int(m.cfg.ReplayIdle.Seconds()), Limit: m.cfg.ReplayBatch}
			if _, err := m.queue.EnqueueUnique(ctx, JobTypeHealNotifications, string(JobTypeHealNotifications), payload.ToMap()); err != nil {
				log.Errorf("[JobQueue Manager] Error queueing notification retry: %v", err)
			}
		}
	}
}

// purgeWorker periodically queues the expired reservation cleanup.
func (m *Manager) purgeWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started purge worker (interval: %s)", m.cfg.PurgeInterval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Purge worker stopping")
			return
		case <-m.purgeTicker.C:
			if _, err := m.queue.EnqueueUnique(context.Background(), JobTypePurgeReservations, string(JobTypePurgeReservations), nil); err != nil {
				log.Errorf("[JobQueue Manager] Error queueing reservation purge: %v", err)
			}
		}
	}
}

// EnqueueParked queues a replay job for every parked event that is not
// already queued. It returns the number of new jobs.
func (m *Manager) EnqueueParked(ctx context.Context) (int, error) {
	events, err := m.parked.ListParked(ctx, m.cfg.ReplayIdle, m.cfg.ReplayBatch)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, ev := range events {
		payload := ReplayWebhookJobPayload{Source: ev.Source, EventID: ev.EventID}
		job, err := m.queue.EnqueueUnique(ctx, JobTypeReplayWebhook, payload.DedupeKey(), payload.ToMap())
		if err != nil {
			return queued, err
		}
		if job != nil {
			queued++
		}
	}
	if queued > 0 {
		log.Infof("[JobQueue Manager] Queued %d parked webhook events for replay", queued)
	}
	return queued, nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
