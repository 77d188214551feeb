package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Hardcoreprawn/ai-content-farm-sub006/internal/config"
)

// Client is the shared connection used by the event publisher
var Client *redis.Client

// pingTimeout bounds the startup connectivity check so a dead Redis
// fails the bootstrap quickly instead of hanging it
const pingTimeout = 5 * time.Second

// InitRedis opens the shared Redis connection and verifies it is reachable
func InitRedis(cfg config.RedisConfig) error {
	Client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.Printf("✓ Redis connected (%s, db %d)", cfg.Addr, cfg.DB)
	return nil
}

// Close closes the Redis connection
func Close() error {
	if Client != nil {
		return Client.Close()
	}
	return nil
}
