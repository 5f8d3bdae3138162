package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/roamwire/roamwire/internal/pkg/config"
)

// SetupCache connects to the Redis compatible server used by the job queue
// and the rate limiter. A failed ping is logged, not fatal: webhooks keep
// working without Redis, only replay and limiting pause.
func SetupCache(cfg config.CacheConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to %s:%s: %v", cfg.Host, cfg.Port, err)
	} else {
		log.Infof("[Cache] Connected to %s:%s: %s", cfg.Host, cfg.Port, pong)
	}
	return client
}

// SetOnce stores value under key unless the key already exists. It reports
// whether this call wrote it.
func SetOnce(ctx context.Context, rdb *redis.Client, key string, value interface{}, expiration time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, value, expiration).Result()
}

// Delete removes a value from the cache by key
func Delete(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}
