// Package types defines the shared types used across all puertocho-intent packages.
//
// These types form the lingua franca between providers, the classifier, the
// voting engine, and the orchestrator. They are intentionally minimal; each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// Entity is a single extracted and optionally normalized entity value.
// It is produced by the recognizer, consumed by the slot-filling machine and
// the subtask decomposer, and cached in the session context.
type Entity struct {
	// Type classifies the entity (e.g., "lugar", "hora", "fecha", "temperatura").
	Type string `json:"type"`

	// Value is the raw surface form as it appeared in the utterance.
	Value string `json:"value"`

	// Normalized is the canonical form (e.g., "07:30" for "siete y media").
	// Empty until the validator has run.
	Normalized string `json:"normalized,omitempty"`

	// Confidence is the extraction confidence (0.0–1.0).
	Confidence float64 `json:"confidence"`

	// Source records which extraction strategy produced this entity:
	// "pattern", "llm", or "context".
	Source string `json:"source,omitempty"`
}

// CanonicalValue returns the normalized form when available, falling back to
// the raw value. Used as the merge key for deduplication.
func (e Entity) CanonicalValue() string {
	if e.Normalized != "" {
		return e.Normalized
	}
	return e.Value
}
