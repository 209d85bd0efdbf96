// Package ledger records which messages have already been notified so that a
// redelivered work message does not post the same notification twice.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/signalhawk/common/config"
)

const keyPrefix = "notified:"

type Ledger interface {
	// Claim marks id as notified. It reports false when id was already claimed.
	Claim(ctx context.Context, id string) (bool, error)
	Health(ctx context.Context) error
	Close() error
}

type redisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a Redis-backed ledger, or a NoopLedger when the ledger is
// disabled in cfg.
func New(ctx context.Context, cfg config.RedisConfig) (Ledger, error) {
	if !cfg.Enabled {
		return NoopLedger{}, nil
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisLedger(client, cfg.LedgerTTL), nil
}

// NewRedisLedger wraps an existing client. Claims expire after ttl; zero
// keeps them forever.
func NewRedisLedger(client *redis.Client, ttl time.Duration) Ledger {
	return &redisLedger{client: client, ttl: ttl}
}

func (r *redisLedger) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+id, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ledger claim failed: %w", err)
	}
	return ok, nil
}

func (r *redisLedger) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisLedger) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// NoopLedger claims every id (ledger disabled).
type NoopLedger struct{}

func (NoopLedger) Claim(ctx context.Context, id string) (bool, error) {
	return true, nil
}

func (NoopLedger) Health(ctx context.Context) error {
	return nil
}

func (NoopLedger) Close() error {
	return nil
}
