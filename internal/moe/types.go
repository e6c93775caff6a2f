// Package moe implements the mixture-of-experts voting engine: several LLM
// participants with distinct roles and weights vote on the user's intent,
// optionally debate over multiple rounds, and a deterministic consensus
// aggregates the result. When voting cannot produce a usable answer the
// engine degrades to single-LLM mode.
package moe

import (
	"time"

	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// VoteStatus is the lifecycle state of one expert's vote.
type VoteStatus string

const (
	VoteInProgress VoteStatus = "in_progress"
	VoteCompleted  VoteStatus = "completed"
	VoteFailed     VoteStatus = "failed"
	VoteTimeout    VoteStatus = "timeout"
)

// AgreementLevel describes how strongly the valid votes agree.
type AgreementLevel string

const (
	AgreementUnanimous AgreementLevel = "unanimous"
	AgreementMajority  AgreementLevel = "majority"
	AgreementPlurality AgreementLevel = "plurality"
	AgreementSplit     AgreementLevel = "split"
	AgreementFailed    AgreementLevel = "failed"
)

// ProposedSubtask is an expert's suggested concrete action, passed on to the
// decomposer when its vote wins.
type ProposedSubtask struct {
	Action       string            `json:"action"`
	Description  string            `json:"description"`
	Entities     map[string]string `json:"entities,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

// Vote is one expert's structured answer in a voting round.
type Vote struct {
	ID            string            `json:"id"`
	ParticipantID string            `json:"participant_id"`
	Role          string            `json:"role"`
	Weight        float64           `json:"weight"`
	Intent        string            `json:"intent,omitempty"`
	Confidence    float64           `json:"confidence"`
	Entities      []types.Entity    `json:"entities,omitempty"`
	Subtasks      []ProposedSubtask `json:"subtasks,omitempty"`
	Reasoning     string            `json:"reasoning,omitempty"`
	Status        VoteStatus        `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Latency       time.Duration     `json:"latency"`
}

// Valid reports whether the vote counts toward consensus.
func (v Vote) Valid() bool { return v.Status == VoteCompleted }

// Consensus is the aggregated decision of a voting round.
type Consensus struct {
	FinalIntent        string            `json:"final_intent"`
	Confidence         float64           `json:"confidence"`
	Agreement          AgreementLevel    `json:"agreement_level"`
	ParticipatingVotes int               `json:"participating_votes"`
	TotalVotes         int               `json:"total_votes"`
	Method             string            `json:"method"`
	Reasoning          string            `json:"reasoning,omitempty"`
	Entities           []types.Entity    `json:"entities,omitempty"`
	Subtasks           []ProposedSubtask `json:"subtasks,omitempty"`
}

// VotingRound is one completed round with its consensus.
type VotingRound struct {
	RequestID string     `json:"request_id"`
	Round     int        `json:"round"`
	Votes     []Vote     `json:"votes"`
	Consensus *Consensus `json:"consensus"`
}

// Participant is one configured expert.
type Participant struct {
	// ID identifies the expert in votes and metrics.
	ID string

	// Role steers the expert's prompt (e.g. "domótica", "general", "crítico").
	Role string

	// Weight scales this expert's vote in [0,1].
	Weight float64

	// Provider is the LLM backing this expert.
	Provider llm.Provider
}

// Request is one deliberation request.
type Request struct {
	// RequestID correlates rounds, logs, and metrics.
	RequestID string

	// Utterance is the user's text.
	Utterance string

	// ContextSummary is the session's conversation summary, when available.
	ContextSummary string

	// History is recent conversation turns rendered as text, oldest first.
	History []string

	// KnownIntents lists the intent ids the experts may choose from.
	KnownIntents []string
}
