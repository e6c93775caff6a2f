// Package session provides the conversational session store: sessions, turns,
// and per-session context with compression and versioning, persisted
// write-through to a TTL-bearing key-value store.
//
// All exported types are safe for concurrent use unless noted otherwise.
package session

import (
	"fmt"
	"time"
)

// State is a session's lifecycle state.
type State string

const (
	StateActive    State = "active"
	StateWaiting   State = "waiting"
	StateCompleted State = "completed"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// IsValid reports whether s is a recognised state.
func (s State) IsValid() bool {
	switch s {
	case StateActive, StateWaiting, StateCompleted, StateExpired, StateCancelled:
		return true
	}
	return false
}

// Turn is one user/assistant exchange. Immutable once appended; Index is
// strictly increasing within a session.
type Turn struct {
	Index         int               `json:"index"`
	UserText      string            `json:"user_text"`
	AssistantText string            `json:"assistant_text,omitempty"`
	IntentID      string            `json:"intent_id,omitempty"`
	Confidence    float64           `json:"confidence,omitempty"`
	Slots         map[string]string `json:"slots,omitempty"`
	Successful    bool              `json:"successful,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// CachedEntity is one remembered entity value in the context's entity cache.
type CachedEntity struct {
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Context is the per-session shared state read and written by every pipeline
// stage.
//
// Invariants: CompressionLevel is monotone non-decreasing; when it is greater
// than zero, Summary reflects all turns older than the compaction window;
// EntityCache entries reflect the most recent turn that produced them.
type Context struct {
	// EntityCache maps entity type to its last known value.
	EntityCache map[string]CachedEntity `json:"entity_cache,omitempty"`

	// Summary is compressed historical prose covering compacted turns.
	Summary string `json:"summary,omitempty"`

	// ActiveIntent is the intent currently being slot-filled or executed.
	ActiveIntent string `json:"active_intent,omitempty"`

	// PendingSlots are the slots still missing for the active intent.
	PendingSlots []string `json:"pending_slots,omitempty"`

	// TopicStack is the ordered stack of conversation topics, most recent last.
	TopicStack []string `json:"topic_stack,omitempty"`

	// CompressionLevel counts how many times the session has been compacted.
	CompressionLevel int `json:"compression_level,omitempty"`

	// Metadata carries deployment-supplied request hints (device type,
	// location, time-of-day) consumed by context-analysis fallback.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy, so snapshots are unaffected by later mutation.
func (c Context) Clone() Context {
	out := c
	if c.EntityCache != nil {
		out.EntityCache = make(map[string]CachedEntity, len(c.EntityCache))
		for k, v := range c.EntityCache {
			out.EntityCache[k] = v
		}
	}
	out.PendingSlots = append([]string(nil), c.PendingSlots...)
	out.TopicStack = append([]string(nil), c.TopicStack...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Session is one user's conversation. The session exclusively owns its turns
// and context; everything else references it by ID.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	State           State     `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	Turns           []Turn    `json:"turns,omitempty"`
	Context         Context   `json:"context"`
	ContextVersion  int       `json:"context_version"`
	TotalTurns      int       `json:"total_turns"`
	SuccessfulTurns int       `json:"successful_turns"`
}

// Clone returns a deep copy of the session. The store hands out clones so
// cached sessions are never aliased by callers.
func (s *Session) Clone() *Session {
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		out.Turns[i] = t
		if t.Slots != nil {
			out.Turns[i].Slots = make(map[string]string, len(t.Slots))
			for k, v := range t.Slots {
				out.Turns[i].Slots[k] = v
			}
		}
	}
	out.Context = s.Context.Clone()
	return &out
}

// NextTurnIndex returns the index the next appended turn must carry.
func (s *Session) NextTurnIndex() int {
	if n := len(s.Turns); n > 0 {
		return s.Turns[n-1].Index + 1
	}
	return s.TotalTurns
}

// Key returns the KV key for a session ID.
func Key(sessionID string) string {
	return "session:" + sessionID
}

// ContextVersionKey returns the KV key for a historical context snapshot.
func ContextVersionKey(sessionID string, version int) string {
	return fmt.Sprintf("session:%s:ctx:v%d", sessionID, version)
}
