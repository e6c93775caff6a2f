package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

const extractionPrompt = `Eres un extractor de entidades para un asistente de voz en español.
Extrae del texto del usuario las entidades de los tipos solicitados.
Responde SOLO con un array JSON: [{"type": "...", "value": "...", "confidence": 0.0}].
Usa exactamente los nombres de tipo solicitados. Si no hay entidades, responde [].`

// LLMExtractor asks the model for structured entity extraction.
type LLMExtractor struct {
	llm llm.Provider
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor creates the LLM-backed extractor.
func NewLLMExtractor(provider llm.Provider) *LLMExtractor {
	return &LLMExtractor{llm: provider}
}

func (e *LLMExtractor) Name() string { return "llm" }

// Extract implements [Extractor]. Unparsable model output is a provider
// error, never silently defaulted.
func (e *LLMExtractor) Extract(ctx context.Context, req Request) ([]types.Entity, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tipos solicitados: %s\n", strings.Join(req.Types, ", "))
	if req.Context != nil && req.Context.Summary != "" {
		fmt.Fprintf(&sb, "Contexto de la conversación: %s\n", req.Context.Summary)
	}
	fmt.Fprintf(&sb, "Texto: %s", req.Utterance)

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractionPrompt,
		Messages: []types.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("entity: llm extraction: %w", err)
	}

	var raw []struct {
		Type       string  `json:"type"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	}
	if err := llm.DecodeJSON(resp.Content, &raw); err != nil {
		return nil, fmt.Errorf("entity: llm extraction: %w", err)
	}

	out := make([]types.Entity, 0, len(raw))
	for _, r := range raw {
		if r.Type == "" || r.Value == "" {
			continue
		}
		out = append(out, types.Entity{
			Type:       r.Type,
			Value:      r.Value,
			Confidence: clamp(r.Confidence),
			Source:     "llm",
		})
	}
	return out, nil
}
