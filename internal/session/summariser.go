package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// summarisationPrompt is the system prompt used when compacting conversation
// history. It asks for Spanish prose because the assistant converses in
// Spanish.
const summarisationPrompt = `Resume la siguiente conversación entre un usuario y su asistente de voz.
Conserva: las intenciones del usuario, las entidades mencionadas (lugares, horas, fechas, personas),
las acciones ya ejecutadas y sus resultados, y cualquier petición pendiente.
Sé conciso pero no omitas detalles que afecten a turnos futuros. Responde solo con el resumen.`

// Summariser produces a concise summary of a run of turns. [Store.Compact]
// uses it to fold old history into the context summary.
type Summariser interface {
	Summarise(ctx context.Context, prior string, turns []Turn) (string, error)
}

// LLMSummariser summarises conversation history with an LLM provider.
type LLMSummariser struct {
	llm llm.Provider
}

var _ Summariser = (*LLMSummariser)(nil)

// NewLLMSummariser creates a [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats the turns (prefixed by any prior summary) into a single
// transcript and asks the model for a condensed summary.
func (s *LLMSummariser) Summarise(ctx context.Context, prior string, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return prior, nil
	}

	var sb strings.Builder
	if prior != "" {
		fmt.Fprintf(&sb, "[resumen previo]: %s\n", prior)
	}
	for _, t := range turns {
		fmt.Fprintf(&sb, "[usuario]: %s\n", t.UserText)
		if t.AssistantText != "" {
			fmt.Fprintf(&sb, "[asistente]: %s\n", t.AssistantText)
		}
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []types.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	return resp.Content, nil
}
