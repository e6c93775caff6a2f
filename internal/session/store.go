package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrSessionNotFound is returned for operations on a session that does not
// exist or has expired.
var ErrSessionNotFound = errors.New("session: not found")

// Options configures a [Store]. Zero values take the documented defaults.
type Options struct {
	// TTL is the idle session time-to-live; activity renews it. Default 30m.
	TTL time.Duration

	// CacheSize is the LRU read cache capacity. Default 512.
	CacheSize int

	// CacheStaleness bounds how long a cache entry is trusted without
	// re-reading the KV store. Default 30m.
	CacheStaleness time.Duration

	// CompressThreshold is the serialized size above which persisted payloads
	// are deflate-compressed. Default 4096.
	CompressThreshold int

	// MaxContextVersions is the number of historical context snapshots kept
	// per session. Default 5.
	MaxContextVersions int

	// CompactionWindow is the number of recent turns kept verbatim by
	// [Store.Compact]. Default 10.
	CompactionWindow int
}

func (o *Options) applyDefaults() {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Minute
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 512
	}
	if o.CacheStaleness <= 0 {
		o.CacheStaleness = 30 * time.Minute
	}
	if o.CompressThreshold <= 0 {
		o.CompressThreshold = 4096
	}
	if o.MaxContextVersions <= 0 {
		o.MaxContextVersions = 5
	}
	if o.CompactionWindow <= 0 {
		o.CompactionWindow = 10
	}
}

// cacheEntry is a cached session with its fetch time for staleness checks.
type cacheEntry struct {
	sess      *Session
	fetchedAt time.Time
}

// Store persists sessions write-through to a [KV] with an in-process LRU read
// cache. All read-modify-write operations serialize per session via a keyed
// mutex, so concurrent requests on the same session never interleave their
// context mutations.
type Store struct {
	kv         KV
	opts       Options
	summariser Summariser

	cache *lru.Cache[string, cacheEntry]

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	now func() time.Time
}

// NewStore creates a session store on the given KV backend. summariser may be
// nil, in which case [Store.Compact] trims without summarising.
func NewStore(kv KV, summariser Summariser, opts Options) (*Store, error) {
	opts.applyDefaults()
	cache, err := lru.New[string, cacheEntry](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("session: create cache: %w", err)
	}
	return &Store{
		kv:         kv,
		opts:       opts,
		summariser: summariser,
		cache:      cache,
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
	}, nil
}

// lock acquires the per-session mutex and returns its unlock function.
func (s *Store) lock(sessionID string) func() {
	s.lockMu.Lock()
	mu, ok := s.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sessionID] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// CreateOrLoad returns the session with the given ID, creating it when the ID
// is empty or unknown. New sessions start Active with a fresh context.
func (s *Store) CreateOrLoad(ctx context.Context, sessionID, userID string) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := s.now()
	sess = &Session{
		ID:             sessionID,
		UserID:         userID,
		State:          StateActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Get returns the session or [ErrSessionNotFound].
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	unlock := s.lock(sessionID)
	defer unlock()
	return s.load(ctx, sessionID)
}

// AppendTurn appends a turn, assigning the next monotonic index, and renews
// the session's TTL.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn Turn) (*Session, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	turn.Index = sess.NextTurnIndex()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}
	sess.Turns = append(sess.Turns, turn)
	sess.TotalTurns++
	if turn.Successful {
		sess.SuccessfulTurns++
	}
	sess.LastActivityAt = s.now()

	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// UpdateContext snapshots the current context as a new version and applies
// mutator to it. Lowering the compression level is an invariant violation and
// fails the update.
func (s *Store) UpdateContext(ctx context.Context, sessionID string, mutator func(*Context) error) (*Session, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.snapshotContext(ctx, sess); err != nil {
		return nil, err
	}

	before := sess.Context.CompressionLevel
	if err := mutator(&sess.Context); err != nil {
		return nil, fmt.Errorf("session: context mutator: %w", err)
	}
	if sess.Context.CompressionLevel < before {
		return nil, fmt.Errorf("session: compression level must not decrease (%d -> %d)", before, sess.Context.CompressionLevel)
	}

	sess.LastActivityAt = s.now()
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// SetState transitions the session to the given state.
func (s *Store) SetState(ctx context.Context, sessionID string, state State) error {
	if !state.IsValid() {
		return fmt.Errorf("session: invalid state %q", state)
	}

	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.State = state
	sess.LastActivityAt = s.now()
	return s.persist(ctx, sess)
}

// SnapshotContext returns a copy of the session's current context.
func (s *Store) SnapshotContext(ctx context.Context, sessionID string) (Context, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return Context{}, err
	}
	return sess.Context, nil
}

// RestoreVersion replaces the current context with the snapshot at the given
// version and records the replaced context as a new version.
func (s *Store) RestoreVersion(ctx context.Context, sessionID string, version int) (*Session, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	data, err := s.kv.Get(ctx, ContextVersionKey(sessionID, version))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("session: context version %d not found for %s", version, sessionID)
	}
	if err != nil {
		return nil, err
	}
	var restored Context
	if err := decodeEnvelope(data, &restored); err != nil {
		return nil, err
	}

	if err := s.snapshotContext(ctx, sess); err != nil {
		return nil, err
	}

	// Compression level stays monotone even across restores.
	if restored.CompressionLevel < sess.Context.CompressionLevel {
		restored.CompressionLevel = sess.Context.CompressionLevel
	}
	sess.Context = restored
	sess.LastActivityAt = s.now()

	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// Compact folds turns older than the compaction window into the context
// summary and trims them. No-op when the session fits the window.
func (s *Store) Compact(ctx context.Context, sessionID string) (*Session, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	window := s.opts.CompactionWindow
	if len(sess.Turns) <= window {
		return sess.Clone(), nil
	}

	old := sess.Turns[:len(sess.Turns)-window]
	if s.summariser != nil {
		summary, err := s.summariser.Summarise(ctx, sess.Context.Summary, old)
		if err != nil {
			return nil, fmt.Errorf("session: compact %s: %w", sessionID, err)
		}
		sess.Context.Summary = summary
	}

	kept := make([]Turn, window)
	copy(kept, sess.Turns[len(sess.Turns)-window:])
	sess.Turns = kept
	sess.Context.CompressionLevel++

	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	slog.Debug("session compacted",
		"session_id", sessionID,
		"summarised_turns", len(old),
		"compression_level", sess.Context.CompressionLevel)
	return sess.Clone(), nil
}

// Delete removes the session and all of its context snapshots.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.load(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	if sess != nil {
		for v := 0; v < sess.ContextVersion; v++ {
			_ = s.kv.Del(ctx, ContextVersionKey(sessionID, v))
		}
	}

	if err := s.kv.Del(ctx, Key(sessionID)); err != nil {
		return err
	}
	s.cache.Remove(sessionID)

	s.lockMu.Lock()
	delete(s.locks, sessionID)
	s.lockMu.Unlock()
	return nil
}

// ListExpired returns IDs of sessions whose TTL has lapsed but which still
// occupy backend storage.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	keys, err := s.kv.ScanExpired(ctx, "session:", now)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, key := range keys {
		id := strings.TrimPrefix(key, "session:")
		// Skip context snapshot keys; deleting the session removes them.
		if strings.Contains(id, ":") {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RunCleanup deletes expired sessions every interval until ctx is cancelled.
// Run it in its own goroutine.
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := s.ListExpired(ctx, s.now())
			if err != nil {
				slog.Warn("session cleanup: scan failed", "err", err)
				continue
			}
			for _, id := range ids {
				if err := s.Delete(ctx, id); err != nil {
					slog.Warn("session cleanup: delete failed", "session_id", id, "err", err)
					continue
				}
				slog.Info("expired session removed", "session_id", id)
			}
		}
	}
}

// snapshotContext stores the session's current context as the next version
// and evicts the oldest snapshot beyond the retention bound. Caller holds the
// session lock.
func (s *Store) snapshotContext(ctx context.Context, sess *Session) error {
	data, err := encodeEnvelope(sess.Context, s.opts.CompressThreshold)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, ContextVersionKey(sess.ID, sess.ContextVersion), data, s.opts.TTL); err != nil {
		return fmt.Errorf("session: snapshot context: %w", err)
	}
	sess.ContextVersion++

	if evict := sess.ContextVersion - s.opts.MaxContextVersions; evict > 0 {
		_ = s.kv.Del(ctx, ContextVersionKey(sess.ID, evict-1))
	}
	return nil
}

// load reads a session, consulting the cache first. Caller holds the session
// lock.
func (s *Store) load(ctx context.Context, sessionID string) (*Session, error) {
	if entry, ok := s.cache.Get(sessionID); ok {
		if s.now().Sub(entry.fetchedAt) < s.opts.CacheStaleness {
			return entry.sess.Clone(), nil
		}
		s.cache.Remove(sessionID)
	}

	data, err := s.kv.Get(ctx, Key(sessionID))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", sessionID, err)
	}

	sess := &Session{}
	if err := decodeEnvelope(data, sess); err != nil {
		return nil, err
	}
	s.cache.Add(sessionID, cacheEntry{sess: sess.Clone(), fetchedAt: s.now()})
	return sess, nil
}

// persist writes a session through to the KV store and refreshes the cache.
// Caller holds the session lock.
func (s *Store) persist(ctx context.Context, sess *Session) error {
	data, err := encodeEnvelope(sess, s.opts.CompressThreshold)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, Key(sess.ID), data, s.opts.TTL); err != nil {
		return fmt.Errorf("session: persist %s: %w", sess.ID, err)
	}
	s.cache.Add(sess.ID, cacheEntry{sess: sess.Clone(), fetchedAt: s.now()})
	return nil
}
