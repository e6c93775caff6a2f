// Package rediskv provides a Redis-backed [session.KV] for deployments where
// session state must survive restarts or be shared between replicas.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PuertOcho/puertocho-intent/internal/session"
)

// KV implements [session.KV] on a Redis client. Redis expires keys natively,
// so ScanExpired always returns an empty slice.
type KV struct {
	client *redis.Client
}

var _ session.KV = (*KV)(nil)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config) (*KV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("rediskv: ping %s: %w", cfg.Addr, err)
	}
	return &KV{client: client}, nil
}

// NewWithClient wraps an existing client. Used in tests.
func NewWithClient(client *redis.Client) *KV {
	return &KV{client: client}
}

// Close releases the underlying client.
func (kv *KV) Close() error {
	return kv.client.Close()
}

// Get implements [session.KV].
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := kv.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rediskv: get %s: %w", key, err)
	}
	return data, nil
}

// Set implements [session.KV].
func (kv *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := kv.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("rediskv: set %s: %w", key, err)
	}
	return nil
}

// Del implements [session.KV].
func (kv *KV) Del(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("rediskv: del %s: %w", key, err)
	}
	return nil
}

// ScanExpired implements [session.KV]. Redis removes expired keys itself.
func (kv *KV) ScanExpired(ctx context.Context, prefix string, now time.Time) ([]string, error) {
	return nil, nil
}
