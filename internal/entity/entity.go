// Package entity implements entity recognition and validation for Spanish
// utterances. Three extraction strategies (regex patterns, LLM structured
// extraction, session-context lookup) run concurrently and their outputs are
// merged keeping the highest-confidence extraction per (type, normalized
// value). A validator normalizes values into canonical forms and enforces
// per-type rules before anything reaches slot filling.
package entity

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/PuertOcho/puertocho-intent/internal/session"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// Canonical entity types. Slot names resolve onto these via [aliasType]; the
// emitted entity always carries the requested slot name as its Type.
const (
	TypeLocation    = "lugar"
	TypeTime        = "hora"
	TypeDate        = "fecha"
	TypeTemperature = "temperatura"
	TypePerson      = "persona"
	TypeArtist      = "artista"
	TypeGenre       = "genero"
	TypeSong        = "cancion"
	TypeCondition   = "condicion"
)

// aliases maps slot names onto the canonical type whose patterns and
// normalization rules apply.
var aliases = map[string]string{
	"ubicacion":  TypeLocation,
	"habitacion": TypeLocation,
	"destino":    TypeLocation,
	"asignado":   TypePerson,
}

// aliasType resolves a requested slot name to its canonical entity type.
func aliasType(requested string) string {
	if canonical, ok := aliases[requested]; ok {
		return canonical
	}
	return requested
}

// Request carries one utterance through extraction.
type Request struct {
	// Utterance is the user's text.
	Utterance string

	// Types lists the entity types (slot names) to look for. Empty means all
	// canonical types.
	Types []string

	// Context is the session context, consulted by the context extractor.
	// Optional.
	Context *session.Context

	// RecentTurns are the most recent session turns, newest last. Optional.
	RecentTurns []session.Turn
}

// Extractor is one extraction strategy.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, req Request) ([]types.Entity, error)
}

// Recognizer runs all extractors concurrently, validates and normalizes the
// candidates, and merges them. Safe for concurrent use.
type Recognizer struct {
	extractors []Extractor
	validator  *Validator
	minConf    float64
}

// Option configures a [Recognizer].
type Option func(*Recognizer)

// WithMinConfidence sets the floor below which merged entities are discarded.
// Default 0.4.
func WithMinConfidence(min float64) Option {
	return func(r *Recognizer) { r.minConf = min }
}

// WithValidator replaces the default validator.
func WithValidator(v *Validator) Option {
	return func(r *Recognizer) { r.validator = v }
}

// NewRecognizer creates a recognizer over the given extractors.
func NewRecognizer(extractors []Extractor, opts ...Option) *Recognizer {
	r := &Recognizer{
		extractors: extractors,
		validator:  NewValidator(),
		minConf:    0.4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recognize extracts, validates, and merges entities from the request.
// Individual extractor failures are logged and skipped; extraction is
// best-effort as long as at least the pattern strategy can run.
func (r *Recognizer) Recognize(ctx context.Context, req Request) ([]types.Entity, error) {
	results := make([][]types.Entity, len(r.extractors))

	g, gctx := errgroup.WithContext(ctx)
	for i, ex := range r.extractors {
		g.Go(func() error {
			ents, err := ex.Extract(gctx, req)
			if err != nil {
				slog.Warn("entity extractor failed", "extractor", ex.Name(), "err", err)
				return nil
			}
			results[i] = ents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := make(map[string]types.Entity)
	for _, ents := range results {
		for _, ent := range ents {
			valid, ok := r.validator.Normalize(ent)
			if !ok || valid.Confidence < r.minConf {
				continue
			}
			key := valid.Type + "\x00" + valid.CanonicalValue()
			if prev, seen := merged[key]; !seen || valid.Confidence > prev.Confidence {
				merged[key] = valid
			}
		}
	}

	out := make([]types.Entity, 0, len(merged))
	for _, ent := range merged {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out, nil
}

// clamp bounds a confidence to [0,1].
func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
