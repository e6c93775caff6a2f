package entity

import (
	"context"

	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// contextDecay discounts cached entities relative to fresh extractions, so a
// value actually present in the utterance always wins the merge.
const contextDecay = 0.8

// ContextExtractor recovers entities the user likely referenced but did not
// repeat, from the session entity cache and recent turn slots.
type ContextExtractor struct{}

var _ Extractor = (*ContextExtractor)(nil)

// NewContextExtractor creates the session-context extractor.
func NewContextExtractor() *ContextExtractor { return &ContextExtractor{} }

func (e *ContextExtractor) Name() string { return "context" }

// Extract implements [Extractor].
func (e *ContextExtractor) Extract(ctx context.Context, req Request) ([]types.Entity, error) {
	if len(req.Types) == 0 {
		return nil, nil
	}

	var out []types.Entity
	for _, reqType := range req.Types {
		if req.Context != nil {
			if cached, ok := req.Context.EntityCache[reqType]; ok {
				out = append(out, types.Entity{
					Type:       reqType,
					Value:      cached.Value,
					Confidence: clamp(cached.Confidence * contextDecay),
					Source:     "context",
				})
				continue
			}
		}

		// Newest turn that filled this slot wins.
		for i := len(req.RecentTurns) - 1; i >= 0; i-- {
			if value, ok := req.RecentTurns[i].Slots[reqType]; ok && value != "" {
				out = append(out, types.Entity{
					Type:       reqType,
					Value:      value,
					Confidence: clamp(req.RecentTurns[i].Confidence * contextDecay),
					Source:     "context",
				})
				break
			}
		}
	}
	return out, nil
}
