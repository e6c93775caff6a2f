package moe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PuertOcho/puertocho-intent/internal/config"
	"github.com/PuertOcho/puertocho-intent/internal/intent"
	"github.com/PuertOcho/puertocho-intent/internal/observe"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

const votePromptTemplate = `Eres un experto en %s dentro de un comité de clasificación de intenciones
para un asistente de voz en español. Analiza la frase del usuario y emite tu voto.
Responde SOLO con JSON:
{"intent": "...", "confidence": 0.0, "entities": {"tipo": "valor"},
 "subtasks": [{"action": "...", "description": "...", "entities": {}, "dependencies": []}],
 "reasoning": "..."}
Elige "intent" de la lista de intenciones conocidas. "confidence" en [0,1].`

const debateInstruction = `Estos son los votos de la ronda anterior. Reconsidera tu voto:
mantenlo si sigues convencido o revísalo si otro experto te ha hecho cambiar de opinión.
Responde con el mismo formato JSON.`

// llmVote is the strict JSON shape each expert must return.
type llmVote struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
	Subtasks   []ProposedSubtask `json:"subtasks"`
	Reasoning  string            `json:"reasoning"`
}

// Engine runs voting rounds and debates. Safe for concurrent use.
type Engine struct {
	participants []Participant
	primary      llm.Provider
	cfg          config.MoEConfig
	metrics      *observe.Metrics
	newID        func() string
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithEngineMetrics overrides the default metrics sink.
func WithEngineMetrics(m *observe.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates the voting engine. primary is the single-LLM fallback
// provider, also used when MoE is disabled.
func NewEngine(participants []Participant, primary llm.Provider, cfg config.MoEConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		participants: participants,
		primary:      primary,
		cfg:          cfg,
		metrics:      observe.DefaultMetrics(),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deliberate runs the full voting process for one request: round 1, optional
// debate rounds, and the single-LLM fallback when consensus fails, falls
// below the threshold, or lands on the help intent.
func (e *Engine) Deliberate(ctx context.Context, req Request) (*VotingRound, error) {
	if !e.cfg.Enabled || len(e.participants) < 2 {
		return e.singleMode(ctx, req, "moe disabled")
	}

	round := e.runRound(ctx, req, 1, nil)
	prev := round

	maxRounds := e.cfg.MaxDebateRounds
	for n := 2; n <= maxRounds+1; n++ {
		if prev.Consensus.Agreement == AgreementUnanimous || prev.Consensus.Agreement == AgreementFailed {
			break
		}
		next := e.runRound(ctx, req, n, prev.Votes)
		improvement := next.Consensus.Confidence - prev.Consensus.Confidence
		prev = next
		if next.Consensus.Agreement == AgreementUnanimous {
			break
		}
		if improvement < e.cfg.DebateImprovementThreshold {
			break
		}
	}

	c := prev.Consensus
	switch {
	case c.Agreement == AgreementFailed:
		return e.singleMode(ctx, req, "consensus failed")
	case c.Confidence < e.cfg.ConsensusThreshold:
		return e.singleMode(ctx, req, fmt.Sprintf("consensus confidence %.2f below threshold", c.Confidence))
	case c.FinalIntent == intent.HelpIntentID:
		// Experts converge on help exactly when they are unsure.
		return e.singleMode(ctx, req, "consensus landed on the help intent")
	}
	e.metrics.RecordConsensus(ctx, string(c.Agreement))
	return prev, nil
}

// runRound launches one vote per participant, in parallel or sequentially
// per configuration, and aggregates the consensus.
func (e *Engine) runRound(ctx context.Context, req Request, roundNum int, prior []Vote) *VotingRound {
	votes := make([]Vote, len(e.participants))

	if e.cfg.ParallelVoting {
		var g errgroup.Group
		g.SetLimit(len(e.participants))
		for i, p := range e.participants {
			g.Go(func() error {
				votes[i] = e.castVote(ctx, p, req, prior)
				return nil
			})
		}
		// castVote records failures on the vote itself; the group never errors.
		_ = g.Wait()
	} else {
		for i, p := range e.participants {
			votes[i] = e.castVote(ctx, p, req, prior)
		}
	}

	consensus := CalculateConsensus(votes)
	e.metrics.ConsensusRounds.Add(ctx, 1)
	slog.Debug("voting round complete",
		"request_id", req.RequestID,
		"round", roundNum,
		"intent", consensus.FinalIntent,
		"agreement", consensus.Agreement,
		"valid_votes", consensus.ParticipatingVotes)

	return &VotingRound{
		RequestID: req.RequestID,
		Round:     roundNum,
		Votes:     votes,
		Consensus: consensus,
	}
}

// castVote runs one expert with the per-vote timeout. Failures never
// propagate as errors; they are recorded on the vote's status.
func (e *Engine) castVote(ctx context.Context, p Participant, req Request, prior []Vote) Vote {
	vote := Vote{
		ID:            e.newID(),
		ParticipantID: p.ID,
		Role:          p.Role,
		Weight:        p.Weight,
		Status:        VoteInProgress,
	}

	timeout := time.Duration(e.cfg.TimeoutPerVoteSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	voteCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Provider.Complete(voteCtx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(votePromptTemplate, p.Role),
		Messages: []types.Message{
			{Role: "user", Content: buildVotePrompt(req, prior)},
		},
		Temperature: 0.2,
	})
	vote.Latency = time.Since(start)

	if err != nil {
		vote.Status, vote.FailureReason = classifyVoteFailure(ctx, err)
		e.metrics.RecordVote(ctx, p.ID, string(vote.Status))
		slog.Warn("vote failed", "participant", p.ID, "status", vote.Status, "err", err)
		return vote
	}

	var parsed llmVote
	if err := llm.DecodeJSON(resp.Content, &parsed); err != nil {
		vote.Status = VoteFailed
		vote.FailureReason = fmt.Sprintf("unparsable vote: %v", err)
		e.metrics.RecordVote(ctx, p.ID, string(vote.Status))
		return vote
	}

	vote.Intent = parsed.Intent
	vote.Confidence = clampConfidence(parsed.Confidence)
	vote.Reasoning = parsed.Reasoning
	vote.Subtasks = parsed.Subtasks
	for typ, value := range parsed.Entities {
		vote.Entities = append(vote.Entities, types.Entity{
			Type:       typ,
			Value:      value,
			Confidence: vote.Confidence,
			Source:     "llm",
		})
	}
	vote.Status = VoteCompleted
	e.metrics.RecordVote(ctx, p.ID, string(vote.Status))
	return vote
}

// classifyVoteFailure distinguishes the per-vote timeout from request-level
// cancellation.
func classifyVoteFailure(requestCtx context.Context, err error) (VoteStatus, string) {
	if errors.Is(requestCtx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return VoteFailed, "cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return VoteTimeout, "vote timeout exceeded"
	}
	return VoteFailed, err.Error()
}

// singleMode degrades to one primary-LLM vote and wraps it in a one-vote
// consensus.
func (e *Engine) singleMode(ctx context.Context, req Request, reason string) (*VotingRound, error) {
	slog.Debug("single-llm mode", "request_id", req.RequestID, "reason", reason)

	vote := e.castVote(ctx, Participant{
		ID:       "primary",
		Role:     "general",
		Weight:   1.0,
		Provider: e.primary,
	}, req, nil)

	if !vote.Valid() {
		return nil, fmt.Errorf("moe: single-llm vote failed: %s", vote.FailureReason)
	}

	consensus := CalculateConsensus([]Vote{vote})
	consensus.Method = "single_llm"
	consensus.Reasoning = reason

	e.metrics.RecordConsensus(ctx, string(consensus.Agreement))
	return &VotingRound{
		RequestID: req.RequestID,
		Round:     1,
		Votes:     []Vote{vote},
		Consensus: consensus,
	}, nil
}

// buildVotePrompt renders the user message for one vote, including prior
// votes during debate rounds.
func buildVotePrompt(req Request, prior []Vote) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Frase del usuario: %s\n", req.Utterance)
	if req.ContextSummary != "" {
		fmt.Fprintf(&sb, "\nResumen de la conversación: %s\n", req.ContextSummary)
	}
	if len(req.History) > 0 {
		sb.WriteString("\nTurnos recientes:\n")
		for _, h := range req.History {
			fmt.Fprintf(&sb, "- %s\n", h)
		}
	}
	if len(req.KnownIntents) > 0 {
		fmt.Fprintf(&sb, "\nIntenciones conocidas: %s\n", strings.Join(req.KnownIntents, ", "))
	}

	if len(prior) > 0 {
		fmt.Fprintf(&sb, "\n%s\n", debateInstruction)
		for _, v := range prior {
			if !v.Valid() {
				continue
			}
			fmt.Fprintf(&sb, "- [%s] %s (confianza %.2f): %s\n", v.Role, v.Intent, v.Confidence, v.Reasoning)
		}
	}
	return sb.String()
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
