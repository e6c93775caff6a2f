// Package decompose turns one utterance into candidate subtasks. Two
// strategies run and their outputs are unioned: LLM decomposition for open
// phrasing, and a per-action pattern catalogue applied to connector-split
// fragments for the common cases. Candidates are deduplicated by action and
// canonical entities, then validated against the tool registry; subtasks
// failing validation are dropped, never patched.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/PuertOcho/puertocho-intent/internal/task"
	"github.com/PuertOcho/puertocho-intent/internal/tools"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// ExtractFunc extracts entities from one utterance fragment. The application
// wires the entity recognizer here; nil disables entity extraction in the
// pattern strategy.
type ExtractFunc func(ctx context.Context, fragment string) ([]types.Entity, error)

// Request is one decomposition request.
type Request struct {
	// Utterance is the user's text.
	Utterance string

	// ContextSummary is the session conversation summary, when available.
	ContextSummary string

	// Entities are the entities already recognized for the whole utterance,
	// merged into every pattern-derived subtask that has a slot for them.
	Entities map[string]string

	// IntentID hints the classified intent. When both strategies come up
	// empty and the intent maps to a registered action, a single subtask is
	// synthesized from it.
	IntentID string

	// Confidence is the classification confidence backing the hint.
	Confidence float64
}

// connectors split a multi-action utterance into fragments for the pattern
// strategy.
var connectors = regexp.MustCompile(`(?i)\s+y\s+|\s+también\s+|\s+tambien\s+|\s+después\s+|\s+despues\s+|\s+luego\s+|,`)

// actionPatterns is the per-action trigger catalogue for the pattern
// strategy.
var actionPatterns = map[string]*regexp.Regexp{
	"encender_luz":                 regexp.MustCompile(`(?i)\b(enciende|encender|prende|activa)\b.*\bluz\b|\bluz\b.*\b(enciende|prende)\b`),
	"apagar_luz":                   regexp.MustCompile(`(?i)\b(apaga|apagar|desactiva)\b.*\bluz\b`),
	"consultar_tiempo":             regexp.MustCompile(`(?i)\b(tiempo|clima|temperatura|pronóstico|pronostico)\b`),
	"programar_alarma":             regexp.MustCompile(`(?i)\b(alarma|despierta|despiértame|despiertame|avísame|avisame)\b`),
	"programar_alarma_condicional": regexp.MustCompile(`(?i)\bsi\s+(llueve|nieva|hace)\b.*\balarma\b|\balarma\b.*\bsi\s+(llueve|nieva|hace)\b`),
	"reproducir_musica":            regexp.MustCompile(`(?i)\b(música|musica|canción|cancion|reproduce|reproducir)\b`),
	"crear_github_issue":           regexp.MustCompile(`(?i)\b(crea|crear|abre|abrir)\b.*\bissue\b`),
	"asignar_issue":                regexp.MustCompile(`(?i)\b(asigna|asignar)\b.*\bissue\b|\bissue\b.*\b(asigna|asignar)\b`),
}

const decompositionPrompt = `Eres el descompositor de tareas de un asistente de voz en español.
Divide la petición del usuario en subtareas ejecutables usando SOLO las acciones disponibles.
Responde SOLO con un array JSON (máximo %d elementos):
[{"action": "...", "description": "...", "entities": {"parametro": "valor"},
  "dependencies": ["action de la que depende"], "priority": "high|medium|low", "confidence": 0.0}]
Usa "dependencies" solo cuando una subtarea necesita el resultado de otra. Si no hay subtareas, responde [].`

// llmSubtask is the strict JSON element shape the model must return.
type llmSubtask struct {
	Action       string            `json:"action"`
	Description  string            `json:"description"`
	Entities     map[string]string `json:"entities"`
	Dependencies []string          `json:"dependencies"`
	Priority     string            `json:"priority"`
	Confidence   float64           `json:"confidence"`
}

// patternOrder fixes the evaluation order of the catalogue so candidate
// order is deterministic. Conditional variants are tried before their base
// action.
var patternOrder = []string{
	"programar_alarma_condicional",
	"encender_luz",
	"apagar_luz",
	"consultar_tiempo",
	"programar_alarma",
	"reproducir_musica",
	"crear_github_issue",
	"asignar_issue",
}

// Decomposer produces validated candidate subtasks. Safe for concurrent use.
type Decomposer struct {
	llm         llm.Provider
	registry    *tools.Registry
	validator   *Validator
	extract     ExtractFunc
	maxSubtasks int
	newID       func() string
}

// Option configures a [Decomposer].
type Option func(*Decomposer)

// WithMaxSubtasks bounds the LLM strategy's output. Default 8.
func WithMaxSubtasks(n int) Option {
	return func(d *Decomposer) { d.maxSubtasks = n }
}

// WithExtractFunc wires fragment-level entity extraction into the pattern
// strategy.
func WithExtractFunc(fn ExtractFunc) Option {
	return func(d *Decomposer) { d.extract = fn }
}

// NewDecomposer creates a decomposer over the given tool registry.
func NewDecomposer(provider llm.Provider, registry *tools.Registry, opts ...Option) *Decomposer {
	d := &Decomposer{
		llm:         provider,
		registry:    registry,
		validator:   NewValidator(registry),
		maxSubtasks: 8,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decompose runs both strategies, unions and deduplicates their candidates,
// resolves dependency references, and validates the batch. An LLM failure
// degrades to pattern-only decomposition.
func (d *Decomposer) Decompose(ctx context.Context, req Request) ([]*task.Subtask, error) {
	var candidates []*task.Subtask

	fromLLM, err := d.llmStrategy(ctx, req)
	if err != nil {
		slog.Warn("llm decomposition failed, using patterns only", "err", err)
	} else {
		candidates = append(candidates, fromLLM...)
	}

	fromPatterns, err := d.patternStrategy(ctx, req)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, fromPatterns...)

	deduped := dedupe(candidates)
	if len(deduped) == 0 {
		if st := d.fromIntentHint(req); st != nil {
			deduped = append(deduped, st)
		}
	}
	resolveDependencyRefs(deduped)
	return d.validator.Validate(deduped), nil
}

// fromIntentHint synthesizes one subtask straight from the classified intent.
func (d *Decomposer) fromIntentHint(req Request) *task.Subtask {
	if req.IntentID == "" || !d.registry.Has(req.IntentID) {
		return nil
	}
	action, _ := d.registry.Get(req.IntentID)
	description := strings.TrimSpace(req.Utterance)
	if description == "" {
		description = action.Description
	}
	return &task.Subtask{
		ID:          d.newID(),
		ActionID:    req.IntentID,
		Description: description,
		Entities:    projectEntities(action, req.Entities),
		Confidence:  req.Confidence,
		Status:      task.StatusPending,
	}
}

// llmStrategy asks the model for a bounded JSON array of subtasks.
func (d *Decomposer) llmStrategy(ctx context.Context, req Request) ([]*task.Subtask, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Petición del usuario: %s\n", req.Utterance)
	if req.ContextSummary != "" {
		fmt.Fprintf(&sb, "\nContexto: %s\n", req.ContextSummary)
	}
	sb.WriteString("\nAcciones disponibles:\n")
	ids := d.registry.IDs()
	sort.Strings(ids)
	for _, id := range ids {
		action, _ := d.registry.Get(id)
		fmt.Fprintf(&sb, "- %s: %s\n", action.ID, action.Description)
	}

	resp, err := d.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(decompositionPrompt, d.maxSubtasks),
		Messages: []types.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("decompose: llm: %w", err)
	}

	var raw []llmSubtask
	if err := llm.DecodeJSON(resp.Content, &raw); err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	if len(raw) > d.maxSubtasks {
		raw = raw[:d.maxSubtasks]
	}

	out := make([]*task.Subtask, 0, len(raw))
	for _, r := range raw {
		out = append(out, &task.Subtask{
			ID:           d.newID(),
			ActionID:     r.Action,
			Description:  r.Description,
			Entities:     r.Entities,
			Dependencies: r.Dependencies,
			Priority:     task.Priority(r.Priority),
			Confidence:   r.Confidence,
			Status:       task.StatusPending,
		})
	}
	return out, nil
}

// patternStrategy splits the utterance on multi-action connectors and
// matches each fragment against the per-action catalogue.
func (d *Decomposer) patternStrategy(ctx context.Context, req Request) ([]*task.Subtask, error) {
	fragments := connectors.Split(req.Utterance, -1)

	var out []*task.Subtask
	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		pool, err := d.fragmentEntities(ctx, fragment, req.Entities)
		if err != nil {
			return nil, err
		}
		matched := make(map[string]bool)
		for _, actionID := range patternOrder {
			re := actionPatterns[actionID]
			if !d.registry.Has(actionID) || !re.MatchString(fragment) {
				continue
			}
			// The conditional alarm subsumes the plain one for the same fragment.
			if actionID == "programar_alarma" && matched["programar_alarma_condicional"] {
				continue
			}
			matched[actionID] = true
			action, _ := d.registry.Get(actionID)
			out = append(out, &task.Subtask{
				ID:          d.newID(),
				ActionID:    actionID,
				Description: fragment,
				Entities:    projectEntities(action, pool),
				Confidence:  0.75,
				Status:      task.StatusPending,
			})
		}
	}
	return out, nil
}

// fragmentEntities builds the fragment's entity pool: the request-wide
// entities overlaid with whatever the extractor finds in the fragment itself.
func (d *Decomposer) fragmentEntities(ctx context.Context, fragment string, global map[string]string) (map[string]string, error) {
	entities := make(map[string]string, len(global))
	for k, v := range global {
		entities[k] = v
	}
	if d.extract != nil {
		extracted, err := d.extract(ctx, fragment)
		if err != nil {
			return nil, fmt.Errorf("decompose: extract from fragment: %w", err)
		}
		for _, ent := range extracted {
			entities[ent.Type] = ent.CanonicalValue()
		}
	}
	return entities, nil
}

// parameterAliases maps an action parameter name to the entity types that can
// fill it when the pool has no exact match.
var parameterAliases = map[string][]string{
	"ubicacion": {"lugar"},
	"asignado":  {"persona"},
}

// projectEntities restricts the fragment's entity pool to the parameters the
// action's input schema declares. Schemas forbid extra properties, so an
// unprojected pool from a multi-action utterance would fail validation.
func projectEntities(action tools.Action, pool map[string]string) map[string]string {
	if len(pool) == 0 {
		return nil
	}
	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(action.InputSchema, &doc); err != nil || len(doc.Properties) == 0 {
		return nil
	}

	out := make(map[string]string)
	for param := range doc.Properties {
		if v, ok := pool[param]; ok {
			out[param] = v
			continue
		}
		for _, alias := range parameterAliases[param] {
			if v, ok := pool[alias]; ok {
				out[param] = v
				break
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// dedupe keeps the highest-confidence candidate per (action, canonical
// entities), preserving first-seen order.
func dedupe(candidates []*task.Subtask) []*task.Subtask {
	byKey := make(map[string]int)
	var out []*task.Subtask
	for _, st := range candidates {
		key := st.DedupKey()
		if idx, seen := byKey[key]; seen {
			if st.Confidence > out[idx].Confidence {
				// Keep the stronger confidence but the established identity, so
				// dependency references stay valid.
				out[idx].Confidence = st.Confidence
			}
			continue
		}
		byKey[key] = len(out)
		out = append(out, st)
	}
	return out
}

// resolveDependencyRefs rewrites dependency entries that name an action into
// the id of the batch's subtask for that action. Unresolvable references are
// left as-is for the validator to reject.
func resolveDependencyRefs(batch []*task.Subtask) {
	ids := make(map[string]bool, len(batch))
	byAction := make(map[string]string, len(batch))
	for _, st := range batch {
		ids[st.ID] = true
		if _, dup := byAction[st.ActionID]; !dup {
			byAction[st.ActionID] = st.ID
		}
	}
	for _, st := range batch {
		for i, dep := range st.Dependencies {
			if ids[dep] {
				continue
			}
			if id, ok := byAction[dep]; ok && id != st.ID {
				st.Dependencies[i] = id
			}
		}
	}
}
