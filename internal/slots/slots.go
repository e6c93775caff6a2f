// Package slots implements the slot-filling dialog state machine. Given an
// intent and the entities extracted so far, it merges values into the
// intent's slots, asks follow-up questions for whatever is still missing,
// and abandons a slot after too many failed attempts.
package slots

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuertOcho/puertocho-intent/internal/config"
	"github.com/PuertOcho/puertocho-intent/internal/intent"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// State is the machine's dialog state.
type State string

const (
	StateIdle      State = "idle"
	StateGathering State = "gathering"
	StateReady     State = "ready"
	StateExecuting State = "executing"
	StateError     State = "error"
)

// FilledSlot is one slot value with the confidence of the extraction that
// produced it.
type FilledSlot struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Filling is the mutable per-intent slot-filling progress, persisted in the
// session between turns.
type Filling struct {
	IntentID string                `json:"intent_id"`
	State    State                 `json:"state"`
	Slots    map[string]FilledSlot `json:"slots,omitempty"`
	Attempts map[string]int        `json:"attempts,omitempty"`
}

// NewFilling starts slot filling for an intent.
func NewFilling(intentID string) *Filling {
	return &Filling{
		IntentID: intentID,
		State:    StateIdle,
		Slots:    make(map[string]FilledSlot),
		Attempts: make(map[string]int),
	}
}

// Values returns the slot values keyed by slot name.
func (f *Filling) Values() map[string]string {
	out := make(map[string]string, len(f.Slots))
	for name, slot := range f.Slots {
		out[name] = slot.Value
	}
	return out
}

// Outcome is the result of one machine step.
type Outcome struct {
	// State is the dialog state after the step.
	State State

	// Missing lists the required slots still unfilled, in prompt order.
	Missing []string

	// Question is the follow-up to ask the user. Set when State is Gathering.
	Question string

	// AbandonedSlot names the slot that exceeded its attempt budget. Set when
	// State is Error.
	AbandonedSlot string
}

// genericQuestions are the per-type default follow-ups, used when neither a
// template nor a dynamic question is available.
var genericQuestions = map[string]string{
	"lugar":      "¿En qué lugar?",
	"ubicacion":  "¿En qué lugar?",
	"habitacion": "¿En qué habitación?",
	"hora":       "¿A qué hora?",
	"fecha":      "¿Qué día?",
	"titulo":     "¿Cuál es el título?",
	"asignado":   "¿A quién se lo asigno?",
	"condicion":  "¿Con qué condición?",
}

const dynamicQuestionPrompt = `Eres un asistente de voz en español. Falta un dato para completar la petición del usuario.
Formula UNA pregunta breve y natural para pedir ese dato. Responde solo con la pregunta.`

// Machine drives slot filling. Stateless apart from configuration; safe for
// concurrent use.
type Machine struct {
	llm llm.Provider
	cfg config.SlotFillingConfig
}

// NewMachine creates the state machine. llm may be nil, which disables
// dynamic question generation.
func NewMachine(provider llm.Provider, cfg config.SlotFillingConfig) *Machine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Machine{llm: provider, cfg: cfg}
}

// Step merges newly extracted entities into the filling and advances the
// dialog: Ready when every required slot is filled, Gathering with a
// follow-up question otherwise, Error when a slot exceeds its attempt
// budget.
func (m *Machine) Step(ctx context.Context, filling *Filling, def *intent.Definition, extracted []types.Entity) (*Outcome, error) {
	if filling.Slots == nil {
		filling.Slots = make(map[string]FilledSlot)
	}
	if filling.Attempts == nil {
		filling.Attempts = make(map[string]int)
	}

	m.merge(filling, def, extracted)

	missing := missingSlots(filling, def)
	if len(missing) == 0 {
		filling.State = StateReady
		return &Outcome{State: StateReady}, nil
	}

	slot := missing[0]
	if filling.Attempts[slot] >= m.cfg.MaxAttempts {
		filling.State = StateError
		slog.Info("slot abandoned",
			"intent", filling.IntentID, "slot", slot, "attempts", filling.Attempts[slot])
		return &Outcome{State: StateError, Missing: missing, AbandonedSlot: slot}, nil
	}
	filling.Attempts[slot]++
	filling.State = StateGathering

	question, err := m.question(ctx, def, slot)
	if err != nil {
		return nil, err
	}
	return &Outcome{State: StateGathering, Missing: missing, Question: question}, nil
}

// MarkExecuting transitions a Ready filling to Executing.
func (m *Machine) MarkExecuting(filling *Filling) error {
	if filling.State != StateReady {
		return fmt.Errorf("slots: cannot execute from state %q", filling.State)
	}
	filling.State = StateExecuting
	return nil
}

// Finish returns an Executing or Error filling to Idle.
func (m *Machine) Finish(filling *Filling) {
	filling.State = StateIdle
}

// merge keeps the higher-confidence value per slot. Extracted entity types
// must match slot names (the recognizer emits requested slot names).
func (m *Machine) merge(filling *Filling, def *intent.Definition, extracted []types.Entity) {
	known := make(map[string]bool, len(def.RequiredSlots)+len(def.OptionalSlots))
	for _, s := range def.RequiredSlots {
		known[s] = true
	}
	for _, s := range def.OptionalSlots {
		known[s] = true
	}

	for _, ent := range extracted {
		if !known[ent.Type] || ent.Confidence < m.cfg.ConfidenceThreshold {
			continue
		}
		if prev, ok := filling.Slots[ent.Type]; ok && prev.Confidence >= ent.Confidence {
			continue
		}
		filling.Slots[ent.Type] = FilledSlot{
			Value:      ent.CanonicalValue(),
			Confidence: ent.Confidence,
		}
	}
}

// missingSlots lists unfilled required slots. Order is stable: the
// definition's declaration order, duplicates alphabetically deduplicated.
func missingSlots(filling *Filling, def *intent.Definition) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, slot := range def.RequiredSlots {
		if seen[slot] {
			continue
		}
		seen[slot] = true
		if _, ok := filling.Slots[slot]; !ok {
			missing = append(missing, slot)
		}
	}
	return missing
}

// question picks the follow-up source: intent template, then dynamic LLM
// generation, then the generic per-type default.
func (m *Machine) question(ctx context.Context, def *intent.Definition, slot string) (string, error) {
	if q, ok := def.SlotPrompts[slot]; ok && q != "" {
		return q, nil
	}

	if m.cfg.EnableDynamicQuestions && m.llm != nil {
		resp, err := m.llm.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: dynamicQuestionPrompt,
			Messages: []types.Message{
				{Role: "user", Content: fmt.Sprintf("Intención: %s (%s). Dato que falta: %s.", def.ID, def.Description, slot)},
			},
			Temperature: 0.5,
			MaxTokens:   60,
		})
		if err != nil {
			slog.Warn("dynamic question generation failed", "slot", slot, "err", err)
		} else if q := strings.TrimSpace(resp.Content); q != "" {
			return q, nil
		}
	}

	if q, ok := genericQuestions[slot]; ok {
		return q, nil
	}
	return fmt.Sprintf("¿Puedes darme más detalles sobre %s?", slot), nil
}
