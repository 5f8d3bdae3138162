package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/roamwire/roamwire/app/controllers"
	"github.com/roamwire/roamwire/internal/pkg/cache"
	"github.com/roamwire/roamwire/internal/pkg/checkout"
	"github.com/roamwire/roamwire/internal/pkg/config"
	"github.com/roamwire/roamwire/internal/pkg/database"
	"github.com/roamwire/roamwire/internal/pkg/discount"
	"github.com/roamwire/roamwire/internal/pkg/env"
	"github.com/roamwire/roamwire/internal/pkg/jobqueue"
	"github.com/roamwire/roamwire/internal/pkg/ledger"
	"github.com/roamwire/roamwire/internal/pkg/mail"
	"github.com/roamwire/roamwire/internal/pkg/orders"
	"github.com/roamwire/roamwire/internal/pkg/payment"
	"github.com/roamwire/roamwire/internal/pkg/reconcile"
	"github.com/roamwire/roamwire/internal/pkg/router"
)

const shutdownTimeout = 15 * time.Second

// Application is the wired service: HTTP server plus background replay.
type Application struct {
	App      *fiber.App
	Jobs     *jobqueue.Manager
	Config   config.Config
	notifier mail.Notifier
}

func main() {
	application, err := NewApplication()
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Errorf("[Main] %v", err)
		os.Exit(1)
	}
}

func NewApplication() (*Application, error) {
	env.SetupEnvFile()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db := database.SetupDatabase(cfg.Database)
	rdb := cache.SetupCache(cfg.Cache)

	notifier, err := mail.NewNotifier(cfg.Notifications)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	orderStore := orders.NewStore(db)
	discounts := discount.NewManager(db)
	webhookLedger := ledger.NewFromDB(db, cfg.Ledger.MaxAttempts)
	engine := reconcile.NewEngine(db, webhookLedger, orderStore, discounts, notifier, cfg.Notifications.Timeout)
	checkoutService := checkout.NewService(db, orderStore, discounts, payment.NewClient(cfg.Payment), cfg)

	jobs := jobqueue.NewManager(rdb, jobqueue.ManagerConfig{
		ReplayInterval: cfg.Ledger.ReplayInterval,
		ReplayIdle:     cfg.Ledger.ReplayIdle,
		ReplayBatch:    cfg.Ledger.ReplayBatch,
		PurgeInterval:  cfg.Discounts.PurgeInterval,
	}, engine, webhookLedger, discounts)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:           "roamwire",
		BodyLimit:         1 << 20,
		EnablePrintRoutes: env.IsDev(),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Config:   cfg,
		Cache:    rdb,
		Webhooks: controllers.NewWebhookController(engine, cfg.Webhooks),
		Checkout: controllers.NewCheckoutController(checkoutService),
		Orders:   controllers.NewOrderController(orderStore),
		Admin:    controllers.NewAdminOrderController(engine),
		Health:   controllers.NewHealthController(db, rdb),
	})

	return &Application{App: app, Jobs: jobs, Config: cfg, notifier: notifier}, nil
}

// Run serves HTTP and runs the job queue until ctx is cancelled, then shuts
// both down.
func (a *Application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Jobs.Start()

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%s", a.Config.App.Host, a.Config.App.Port)
		log.Infof("[Main] Listening on %s", addr)
		return a.App.Listen(addr)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("[Main] Shutting down...")

		a.Jobs.Stop()
		if closer, ok := a.notifier.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Warnf("[Main] Closing notifier: %v", err)
			}
		}
		return a.App.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}
