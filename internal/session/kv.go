package session

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by [KV.Get] for missing or expired keys.
var ErrKeyNotFound = errors.New("session: key not found")

// KV is the abstraction over the persistence backend. Keys carry a TTL;
// setting a key again renews it.
//
// Implementations must be safe for concurrent use.
type KV interface {
	// Get returns the value for key or [ErrKeyNotFound].
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL. A zero TTL means no
	// expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// ScanExpired returns keys with the given prefix whose TTL has lapsed but
	// which still occupy storage. Backends with native expiry (Redis) return
	// an empty slice; the in-memory backend relies on the cleanup sweep
	// calling this.
	ScanExpired(ctx context.Context, prefix string, now time.Time) ([]string, error)
}
