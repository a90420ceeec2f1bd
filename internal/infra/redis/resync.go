// Package redis publishes feed-continuity signals for the read-store
// cache maintainer. When the gateway misses commits or drops a lagging
// subscriber, the maintainer consumes these signals and reconciles its
// cache against current ledger state.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trustmesh/gateway/internal/core/domain"
)

const resyncStream = "gateway:resync"

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Client wraps Redis operations for resync signaling.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PublishResync appends a resync signal to the stream the cache
// maintainer consumes.
func (c *Client) PublishResync(ctx context.Context, sig domain.ResyncSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode resync signal: %w", err)
	}

	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: resyncStream,
		Values: map[string]any{
			"signal": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd resync signal: %w", err)
	}
	return nil
}
