// Package intent provides the declarative intent catalogue: definitions of
// every intent the assistant understands, loaded from YAML and hot-reloaded
// on change.
//
// The catalogue is read-mostly. [Registry] holds the current [Catalogue]
// behind an atomic pointer so concurrent readers always observe either the
// pre- or post-reload catalogue, never a partial view.
package intent

import "fmt"

// Definition describes one intent the assistant can act on.
type Definition struct {
	// ID uniquely identifies the intent (e.g., "encender_luz").
	ID string `yaml:"id"`

	// Description is a short natural-language summary, included in
	// classification prompts.
	Description string `yaml:"description"`

	// ExpertDomain tags the intent for MoE expert routing (e.g., "smarthome").
	ExpertDomain string `yaml:"expert_domain"`

	// Examples are example utterances used as the RAG retrieval corpus.
	// At least one is required.
	Examples []string `yaml:"examples"`

	// RequiredSlots must be filled before the intent can execute. Order
	// matters: slot-filling asks for missing slots in this order.
	RequiredSlots []string `yaml:"required_slots"`

	// OptionalSlots enrich execution when present but never block it.
	OptionalSlots []string `yaml:"optional_slots"`

	// SlotPrompts maps a slot name to a templated follow-up question.
	SlotPrompts map[string]string `yaml:"slot_prompts"`

	// ToolActionID names the tool action executing this intent. May be empty
	// for purely conversational intents (saludo, despedida).
	ToolActionID string `yaml:"tool_action_id"`

	// ConfidenceThreshold is the acceptance floor for classification.
	// 0 defaults to 0.7.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxRAGExamples bounds retrieval for this intent. 0 defaults to 5.
	MaxRAGExamples int `yaml:"max_rag_examples"`
}

// Catalogue is an immutable snapshot of the loaded intent definitions.
// Do not mutate after construction; [Registry] shares snapshots between
// concurrent readers.
type Catalogue struct {
	// Version is the catalogue file's declared version, informational only.
	Version int

	defs []Definition
	byID map[string]*Definition
}

// NewCatalogue builds a catalogue from already-validated definitions.
func NewCatalogue(version int, defs []Definition) *Catalogue {
	c := &Catalogue{
		Version: version,
		defs:    defs,
		byID:    make(map[string]*Definition, len(defs)),
	}
	for i := range c.defs {
		c.byID[c.defs[i].ID] = &c.defs[i]
	}
	return c
}

// Get returns the definition for id, or false when the intent is unknown.
func (c *Catalogue) Get(id string) (*Definition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// All returns all definitions in declaration order. Callers must not mutate
// the returned slice.
func (c *Catalogue) All() []Definition { return c.defs }

// IDs returns all intent IDs in declaration order.
func (c *Catalogue) IDs() []string {
	ids := make([]string, len(c.defs))
	for i, d := range c.defs {
		ids[i] = d.ID
	}
	return ids
}

// Examples returns the RAG corpus as intent ID → example utterances.
func (c *Catalogue) Examples() map[string][]string {
	out := make(map[string][]string, len(c.defs))
	for _, d := range c.defs {
		out[d.ID] = d.Examples
	}
	return out
}

// Len returns the number of intents in the catalogue.
func (c *Catalogue) Len() int { return len(c.defs) }

// String implements fmt.Stringer for log output.
func (c *Catalogue) String() string {
	return fmt.Sprintf("Catalogue(v%d, %d intents)", c.Version, len(c.defs))
}
