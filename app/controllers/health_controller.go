package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type HealthController struct {
	db    *gorm.DB
	cache *redis.Client
}

func NewHealthController(db *gorm.DB, cache *redis.Client) *HealthController {
	return &HealthController{db: db, cache: cache}
}

// HandleHealth reports liveness. The database is required; Redis only backs
// the replay queue and the rate limiter, so its absence is reported but not fatal.
func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	checks := fiber.Map{"database": "ok", "cache": "ok"}

	if err := hc.pingDB(ctx); err != nil {
		status = fiber.StatusServiceUnavailable
		checks["database"] = err.Error()
	}
	if hc.cache == nil {
		checks["cache"] = "disabled"
	} else if err := hc.cache.Ping(ctx).Err(); err != nil {
		checks["cache"] = err.Error()
	}

	return c.Status(status).JSON(fiber.Map{"ok": status == fiber.StatusOK, "checks": checks})
}

func (hc *HealthController) pingDB(ctx context.Context) error {
	if hc.db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := hc.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
