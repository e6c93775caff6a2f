// Package app wires the full utterance-handling pipeline: session lookup,
// intent classification (with optional expert deliberation), entity
// recognition, slot filling, decomposition, dependency planning, and
// orchestrated execution, plus the Spanish user-facing replies.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PuertOcho/puertocho-intent/internal/classify"
	"github.com/PuertOcho/puertocho-intent/internal/decompose"
	"github.com/PuertOcho/puertocho-intent/internal/entity"
	"github.com/PuertOcho/puertocho-intent/internal/intent"
	"github.com/PuertOcho/puertocho-intent/internal/moe"
	"github.com/PuertOcho/puertocho-intent/internal/orchestrate"
	"github.com/PuertOcho/puertocho-intent/internal/plan"
	"github.com/PuertOcho/puertocho-intent/internal/session"
	"github.com/PuertOcho/puertocho-intent/internal/slots"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// ErrEmptyUtterance is returned when the utterance is blank after trimming.
var ErrEmptyUtterance = errors.New("app: empty utterance")

// slotFillingKey is the session metadata key holding slot-filling progress.
const slotFillingKey = "slot_filling"

// recentTurnWindow bounds how many turns the entity recognizer sees.
const recentTurnWindow = 5

// Deps are the pipeline's collaborators. Sessions, Intents, Classifier,
// Recognizer, Slots, Decomposer, Resolver, Orchestrator, and Tracker are
// required; MoE is optional.
type Deps struct {
	Sessions     *session.Store
	Intents      *intent.Registry
	Classifier   *classify.Classifier
	MoE          *moe.Engine
	Recognizer   *entity.Recognizer
	Slots        *slots.Machine
	Decomposer   *decompose.Decomposer
	Resolver     *plan.Resolver
	Orchestrator *orchestrate.Orchestrator
	Tracker      *orchestrate.ProgressTracker
}

// Response is the user-facing outcome of one utterance.
type Response struct {
	SessionID     string              `json:"session_id"`
	RequestID     string              `json:"request_id"`
	IntentID      string              `json:"intent_id"`
	Confidence    float64             `json:"confidence"`
	FallbackLevel int                 `json:"fallback_level,omitempty"`
	Entities      []types.Entity      `json:"entities,omitempty"`
	Message       string              `json:"message"`
	AwaitingSlot  string              `json:"awaiting_slot,omitempty"`
	TrackerID     string              `json:"tracker_id,omitempty"`
	Execution     *orchestrate.Result `json:"execution,omitempty"`
}

// Pipeline handles utterances end to end. Safe for concurrent use.
type Pipeline struct {
	deps  Deps
	newID func() string
}

// NewPipeline validates the dependency set and builds the pipeline.
func NewPipeline(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("app: session store is required")
	case deps.Intents == nil:
		return nil, errors.New("app: intent registry is required")
	case deps.Classifier == nil:
		return nil, errors.New("app: classifier is required")
	case deps.Recognizer == nil:
		return nil, errors.New("app: entity recognizer is required")
	case deps.Slots == nil:
		return nil, errors.New("app: slot machine is required")
	case deps.Decomposer == nil:
		return nil, errors.New("app: decomposer is required")
	case deps.Resolver == nil:
		return nil, errors.New("app: dependency resolver is required")
	case deps.Orchestrator == nil:
		return nil, errors.New("app: orchestrator is required")
	case deps.Tracker == nil:
		return nil, errors.New("app: progress tracker is required")
	}
	return &Pipeline{deps: deps, newID: uuid.NewString}, nil
}

// HandleUtterance runs one utterance through the pipeline and returns the
// reply to speak.
func (p *Pipeline) HandleUtterance(ctx context.Context, sessionID, userID, utterance string) (*Response, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}
	requestID := p.newID()

	sess, err := p.deps.Sessions.CreateOrLoad(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	resp := &Response{SessionID: sess.ID, RequestID: requestID}

	intentID, confidence, fallbackLevel, classified, err := p.resolveIntent(ctx, sess, utterance)
	if err != nil {
		return nil, err
	}
	resp.IntentID = intentID
	resp.Confidence = confidence
	resp.FallbackLevel = fallbackLevel

	catalogue := p.deps.Intents.Snapshot()
	def, ok := catalogue.Get(intentID)
	if !ok || intentID == intent.HelpIntentID {
		resp.Message = p.helpMessage(catalogue)
		p.appendTurn(ctx, sess.ID, utterance, resp, nil, false)
		return resp, nil
	}

	entities, err := p.recognize(ctx, sess, def, utterance, classified)
	if err != nil {
		return nil, err
	}
	resp.Entities = entities

	filling := p.loadFilling(sess, intentID)
	outcome, err := p.deps.Slots.Step(ctx, filling, def, entities)
	if err != nil {
		return nil, err
	}

	switch outcome.State {
	case slots.StateGathering:
		resp.Message = outcome.Question
		resp.AwaitingSlot = outcome.Missing[0]
		p.saveFilling(ctx, sess.ID, filling, outcome.Missing)
		p.appendTurn(ctx, sess.ID, utterance, resp, filling.Values(), false)
		return resp, nil

	case slots.StateError:
		resp.Message = fmt.Sprintf(
			"Lo siento, no he conseguido entender %s, así que dejamos la petición por ahora.",
			slotTopic(outcome.AbandonedSlot))
		p.deps.Slots.Finish(filling)
		p.clearFilling(ctx, sess.ID)
		p.appendTurn(ctx, sess.ID, utterance, resp, nil, false)
		return resp, nil
	}

	if err := p.deps.Slots.MarkExecuting(filling); err != nil {
		return nil, err
	}

	execution, err := p.execute(ctx, requestID, sess, utterance, intentID, confidence, filling)
	if err != nil {
		return nil, err
	}
	resp.Execution = execution
	resp.TrackerID = execution.TrackerID
	resp.Message = executionMessage(execution)

	p.deps.Slots.Finish(filling)
	p.clearFilling(ctx, sess.ID)
	p.cacheEntities(ctx, sess.ID, entities)
	p.appendTurn(ctx, sess.ID, utterance, resp, filling.Values(), execution.AllSuccessful)
	return resp, nil
}

// Progress exposes the tracker for a running or finished request.
func (p *Pipeline) Progress(trackerID string) (*orchestrate.Snapshot, error) {
	return p.deps.Tracker.Get(trackerID)
}

// resolveIntent classifies the utterance. When the expert engine is present
// the decision is delegated to it: the classifier still runs first so its
// entities, examples, and fallback level carry through, but the deliberated
// consensus decides the intent. A session mid slot filling keeps its active
// intent instead of reclassifying.
func (p *Pipeline) resolveIntent(ctx context.Context, sess *session.Session, utterance string) (string, float64, int, *classify.Result, error) {
	if sess.Context.ActiveIntent != "" && len(sess.Context.PendingSlots) > 0 {
		return sess.Context.ActiveIntent, 1.0, 0, nil, nil
	}

	result, err := p.deps.Classifier.Classify(ctx, utterance, &sess.Context)
	if err != nil {
		return "", 0, 0, nil, err
	}
	intentID, confidence := result.IntentID, result.Confidence

	if p.deps.MoE != nil {
		round, derr := p.deps.MoE.Deliberate(ctx, moe.Request{
			RequestID:      p.newID(),
			Utterance:      utterance,
			ContextSummary: sess.Context.Summary,
			KnownIntents:   p.deps.Intents.Snapshot().IDs(),
		})
		if derr != nil {
			slog.Warn("expert deliberation failed, keeping classifier result", "err", derr)
		} else {
			intentID = round.Consensus.FinalIntent
			confidence = round.Consensus.Confidence
		}
	}
	return intentID, confidence, result.FallbackLevel, result, nil
}

// recognize extracts entities for the intent's slots and merges in whatever
// the classifier already produced.
func (p *Pipeline) recognize(ctx context.Context, sess *session.Session, def *intent.Definition, utterance string, classified *classify.Result) ([]types.Entity, error) {
	turns := sess.Turns
	if len(turns) > recentTurnWindow {
		turns = turns[len(turns)-recentTurnWindow:]
	}

	entities, err := p.deps.Recognizer.Recognize(ctx, entity.Request{
		Utterance:   utterance,
		Types:       append(append([]string(nil), def.RequiredSlots...), def.OptionalSlots...),
		Context:     &sess.Context,
		RecentTurns: turns,
	})
	if err != nil {
		return nil, err
	}
	if classified != nil {
		entities = append(entities, classified.Entities...)
	}
	return entities, nil
}

// execute decomposes, plans, and runs the request.
func (p *Pipeline) execute(ctx context.Context, requestID string, sess *session.Session, utterance, intentID string, confidence float64, filling *slots.Filling) (*orchestrate.Result, error) {
	batch, err := p.deps.Decomposer.Decompose(ctx, decompose.Request{
		Utterance:      utterance,
		ContextSummary: sess.Context.Summary,
		Entities:       filling.Values(),
		IntentID:       intentID,
		Confidence:     confidence,
	})
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("app: no executable subtasks for intent %s", intentID)
	}

	taskPlan, err := p.deps.Resolver.Resolve(batch)
	if err != nil {
		return nil, err
	}
	return p.deps.Orchestrator.Execute(ctx, requestID, taskPlan)
}

// loadFilling resumes slot filling persisted in the session, or starts fresh.
func (p *Pipeline) loadFilling(sess *session.Session, intentID string) *slots.Filling {
	if sess.Context.ActiveIntent == intentID {
		if raw, ok := sess.Context.Metadata[slotFillingKey]; ok {
			var filling slots.Filling
			if err := json.Unmarshal([]byte(raw), &filling); err == nil && filling.IntentID == intentID {
				return &filling
			}
		}
	}
	return slots.NewFilling(intentID)
}

// saveFilling persists slot-filling progress between turns.
func (p *Pipeline) saveFilling(ctx context.Context, sessionID string, filling *slots.Filling, missing []string) {
	raw, err := json.Marshal(filling)
	if err != nil {
		slog.Warn("slot filling not persisted", "session", sessionID, "err", err)
		return
	}
	_, err = p.deps.Sessions.UpdateContext(ctx, sessionID, func(c *session.Context) error {
		c.ActiveIntent = filling.IntentID
		c.PendingSlots = append([]string(nil), missing...)
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		c.Metadata[slotFillingKey] = string(raw)
		return nil
	})
	if err != nil {
		slog.Warn("slot filling not persisted", "session", sessionID, "err", err)
	}
}

// clearFilling removes any persisted slot-filling state.
func (p *Pipeline) clearFilling(ctx context.Context, sessionID string) {
	_, err := p.deps.Sessions.UpdateContext(ctx, sessionID, func(c *session.Context) error {
		c.ActiveIntent = ""
		c.PendingSlots = nil
		delete(c.Metadata, slotFillingKey)
		return nil
	})
	if err != nil {
		slog.Warn("slot filling not cleared", "session", sessionID, "err", err)
	}
}

// cacheEntities refreshes the session entity cache with this turn's values.
func (p *Pipeline) cacheEntities(ctx context.Context, sessionID string, entities []types.Entity) {
	if len(entities) == 0 {
		return
	}
	_, err := p.deps.Sessions.UpdateContext(ctx, sessionID, func(c *session.Context) error {
		if c.EntityCache == nil {
			c.EntityCache = make(map[string]session.CachedEntity)
		}
		now := time.Now()
		for _, ent := range entities {
			prev, ok := c.EntityCache[ent.Type]
			if ok && prev.Confidence > ent.Confidence {
				continue
			}
			c.EntityCache[ent.Type] = session.CachedEntity{
				Value:      ent.CanonicalValue(),
				Confidence: ent.Confidence,
				UpdatedAt:  now,
			}
		}
		return nil
	})
	if err != nil {
		slog.Warn("entity cache not updated", "session", sessionID, "err", err)
	}
}

// appendTurn records the turn; failures are logged, never user-facing.
func (p *Pipeline) appendTurn(ctx context.Context, sessionID, utterance string, resp *Response, slotValues map[string]string, successful bool) {
	_, err := p.deps.Sessions.AppendTurn(ctx, sessionID, session.Turn{
		UserText:      utterance,
		AssistantText: resp.Message,
		IntentID:      resp.IntentID,
		Confidence:    resp.Confidence,
		Slots:         slotValues,
		Successful:    successful,
	})
	if err != nil {
		slog.Warn("turn not recorded", "session", sessionID, "err", err)
	}
}

// helpMessage lists the assistant's capabilities as a clarification prompt.
func (p *Pipeline) helpMessage(catalogue *intent.Catalogue) string {
	var topics []string
	for _, def := range catalogue.All() {
		if def.ID == intent.HelpIntentID || def.Description == "" {
			continue
		}
		topics = append(topics, def.Description)
		if len(topics) == 5 {
			break
		}
	}
	if len(topics) == 0 {
		return "No estoy seguro de lo que necesitas. ¿Puedes decirlo de otra manera?"
	}
	return fmt.Sprintf("No estoy seguro de lo que necesitas. Puedo ayudarte a: %s. ¿Qué quieres hacer?",
		strings.Join(topics, "; "))
}

// slotTopic phrases a slot name for the abandonment apology.
func slotTopic(slot string) string {
	switch slot {
	case "hora":
		return "a qué hora lo quieres"
	case "lugar", "ubicacion":
		return "a qué lugar te refieres"
	case "fecha":
		return "qué día lo quieres"
	default:
		return fmt.Sprintf("el dato %q", slot)
	}
}

// executionMessage phrases the execution outcome.
func executionMessage(res *orchestrate.Result) string {
	switch {
	case res.AllSuccessful && res.Total == 1:
		return "Hecho."
	case res.AllSuccessful:
		return fmt.Sprintf("Hecho, he completado las %d tareas.", res.Total)
	case len(res.RolledBack) > 0:
		return "No he podido completar la petición. He deshecho los pasos que ya estaban hechos, así que no se ha realizado ninguna acción."
	case res.Completed > 0:
		return fmt.Sprintf("He completado %d de %d tareas; el resto ha fallado.", res.Completed, res.Total)
	default:
		return "No he podido completar la petición."
	}
}
