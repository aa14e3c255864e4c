// Package cache memoizes rule extraction results keyed by the exact OCR text.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/ticket-tracker/internal/ticket"
)

// ParseCache stores Records per (policy, text). A miss is (zero, false, nil).
type ParseCache interface {
	Get(ctx context.Context, policy ticket.TrainNumberPolicy, text string) (ticket.Record, bool, error)
	Set(ctx context.Context, policy ticket.TrainNumberPolicy, text string, rec ticket.Record) error
}

// Key is the redis key for text parsed under policy.
func Key(policy ticket.TrainNumberPolicy, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "ticket:parse:" + policy.String() + ":" + hex.EncodeToString(sum[:])
}

type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, opts Options, logger *slog.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		logger.Error("cache.redis.ping_failed", "addr", opts.Addr, "error", err)
		return nil, err
	}
	logger.Info("cache.redis.ok", "addr", opts.Addr, "ttl", opts.TTL)
	return &RedisCache{rdb: rdb, ttl: opts.TTL, logger: logger}, nil
}

func (c *RedisCache) Get(ctx context.Context, policy ticket.TrainNumberPolicy, text string) (ticket.Record, bool, error) {
	b, err := c.rdb.Get(ctx, Key(policy, text)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ticket.Record{}, false, nil
	}
	if err != nil {
		return ticket.Record{}, false, err
	}
	var rec ticket.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		// stale or foreign value; treat as a miss
		c.logger.Warn("cache.redis.decode_failed", "error", err)
		return ticket.Record{}, false, nil
	}
	return rec, true, nil
}

func (c *RedisCache) Set(ctx context.Context, policy ticket.TrainNumberPolicy, text string, rec ticket.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, Key(policy, text), b, c.ttl).Err()
}

func (c *RedisCache) Close() error { return c.rdb.Close() }

// Nop never hits. It is used when no cache is configured.
type Nop struct{}

func (Nop) Get(context.Context, ticket.TrainNumberPolicy, string) (ticket.Record, bool, error) {
	return ticket.Record{}, false, nil
}

func (Nop) Set(context.Context, ticket.TrainNumberPolicy, string, ticket.Record) error { return nil }
