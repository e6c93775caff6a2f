// Package memkv provides an in-process [session.KV] for single-node
// deployments and tests. Keys expire lazily on read and via ScanExpired.
package memkv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PuertOcho/puertocho-intent/internal/session"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// KV is an in-memory key-value store with per-key TTL. Safe for concurrent
// use.
type KV struct {
	mu      sync.RWMutex
	entries map[string]entry

	// now is replaceable in tests.
	now func() time.Time
}

var _ session.KV = (*KV)(nil)

// New creates an empty in-memory KV.
func New() *KV {
	return &KV{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get implements [session.KV]. Expired keys behave as missing.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	kv.mu.RLock()
	e, ok := kv.entries[key]
	kv.mu.RUnlock()

	if !ok || kv.expired(e, kv.now()) {
		return nil, session.ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set implements [session.KV].
func (kv *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = kv.now().Add(ttl)
	}

	kv.mu.Lock()
	kv.entries[key] = e
	kv.mu.Unlock()
	return nil
}

// Del implements [session.KV].
func (kv *KV) Del(ctx context.Context, key string) error {
	kv.mu.Lock()
	delete(kv.entries, key)
	kv.mu.Unlock()
	return nil
}

// ScanExpired implements [session.KV].
func (kv *KV) ScanExpired(ctx context.Context, prefix string, now time.Time) ([]string, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	var expired []string
	for key, e := range kv.entries {
		if strings.HasPrefix(key, prefix) && kv.expired(e, now) {
			expired = append(expired, key)
		}
	}
	return expired, nil
}

func (kv *KV) expired(e entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
