package router

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"
)

// limiterStorage shares the rate limiter counters between instances through
// Redis. Without a reachable Redis the limiter falls back to in-memory counters.
func limiterStorage(client *goredis.Client) fiber.Storage {
	if client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// redis.New panics on an unreachable server.
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("[Router] Rate limiter uses in-memory storage, Redis unavailable: %v", err)
		return nil
	}

	host := "localhost"
	port := 6379
	opts := client.Options()
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	// Database 2 keeps limiter keys apart from the job queue (DB 0).
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: 2,
		Reset:    false,
	})
}
