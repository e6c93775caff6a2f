package moe

import (
	"math"
	"math/rand"
	"testing"

	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

func completedVote(id, intentID string, weight, confidence float64) Vote {
	return Vote{
		ID:            id,
		ParticipantID: id,
		Weight:        weight,
		Intent:        intentID,
		Confidence:    confidence,
		Status:        VoteCompleted,
	}
}

func TestCalculateConsensus_MajoritySplitVote(t *testing.T) {
	t.Parallel()
	// Three experts, two for music with weights 1.0 and 0.8, one for alarm
	// with weight 0.9.
	votes := []Vote{
		completedVote("a", "reproducir_musica", 1.0, 0.9),
		completedVote("b", "reproducir_musica", 0.8, 0.7),
		completedVote("c", "programar_alarma", 0.9, 0.95),
	}

	c := CalculateConsensus(votes)
	if c.FinalIntent != "reproducir_musica" {
		t.Errorf("final intent = %q, want reproducir_musica", c.FinalIntent)
	}
	if c.Agreement != AgreementMajority {
		t.Errorf("agreement = %q, want majority", c.Agreement)
	}
	want := (1.0*0.9 + 0.8*0.7) / 1.8
	if math.Abs(c.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want weighted mean %v", c.Confidence, want)
	}
	if c.ParticipatingVotes != 3 || c.TotalVotes != 3 {
		t.Errorf("votes = %d/%d", c.ParticipatingVotes, c.TotalVotes)
	}
}

func TestCalculateConsensus_AgreementLevels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		votes []Vote
		want  AgreementLevel
	}{
		{
			"unanimous",
			[]Vote{
				completedVote("a", "saludo", 1, 0.9),
				completedVote("b", "saludo", 1, 0.8),
			},
			AgreementUnanimous,
		},
		{
			"single vote is unanimous",
			[]Vote{completedVote("a", "saludo", 1, 0.9)},
			AgreementUnanimous,
		},
		{
			"majority",
			[]Vote{
				completedVote("a", "saludo", 1, 0.9),
				completedVote("b", "saludo", 1, 0.8),
				completedVote("c", "despedida", 1, 0.7),
			},
			AgreementMajority,
		},
		{
			"plurality",
			[]Vote{
				completedVote("a", "saludo", 1, 0.9),
				completedVote("b", "saludo", 1, 0.8),
				completedVote("c", "despedida", 1, 0.7),
				completedVote("d", "ayuda", 1, 0.6),
			},
			AgreementPlurality,
		},
		{
			"split",
			[]Vote{
				completedVote("a", "saludo", 1, 0.9),
				completedVote("b", "despedida", 0.5, 0.8),
				completedVote("c", "ayuda", 0.5, 0.7),
			},
			AgreementSplit,
		},
		{
			"failed",
			[]Vote{
				{ID: "a", Status: VoteFailed},
				{ID: "b", Status: VoteTimeout},
			},
			AgreementFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c := CalculateConsensus(tt.votes); c.Agreement != tt.want {
				t.Errorf("agreement = %q, want %q", c.Agreement, tt.want)
			}
		})
	}
}

func TestCalculateConsensus_SingleVoteWinnerIsPlurality(t *testing.T) {
	t.Parallel()
	// The winner carries a single heavy vote while another intent received two
	// lighter ones. Not every vote named a distinct intent, so this is a
	// plurality, not a split.
	votes := []Vote{
		completedVote("a", "programar_alarma", 0.5, 0.9),
		completedVote("b", "reproducir_musica", 0.2, 0.8),
		completedVote("c", "reproducir_musica", 0.2, 0.7),
	}

	c := CalculateConsensus(votes)
	if c.FinalIntent != "programar_alarma" {
		t.Errorf("final intent = %q, want programar_alarma", c.FinalIntent)
	}
	if c.Agreement != AgreementPlurality {
		t.Errorf("agreement = %q, want plurality", c.Agreement)
	}
}

func TestCalculateConsensus_TieBreaks(t *testing.T) {
	t.Parallel()
	// Equal weighted sums; higher mean confidence wins.
	votes := []Vote{
		completedVote("a", "saludo", 1, 0.6),
		completedVote("b", "despedida", 1, 0.9),
	}
	if c := CalculateConsensus(votes); c.FinalIntent != "despedida" {
		t.Errorf("confidence tie-break: got %q, want despedida", c.FinalIntent)
	}

	// Equal on weight and confidence: alphabetical intent id.
	votes = []Vote{
		completedVote("a", "saludo", 1, 0.8),
		completedVote("b", "despedida", 1, 0.8),
	}
	if c := CalculateConsensus(votes); c.FinalIntent != "despedida" {
		t.Errorf("alphabetical tie-break: got %q, want despedida", c.FinalIntent)
	}
}

func TestCalculateConsensus_Deterministic(t *testing.T) {
	t.Parallel()
	votes := []Vote{
		completedVote("a", "reproducir_musica", 1.0, 0.9),
		completedVote("b", "programar_alarma", 0.9, 0.95),
		completedVote("c", "reproducir_musica", 0.8, 0.7),
		{ID: "d", Status: VoteTimeout},
	}

	want := CalculateConsensus(votes)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]Vote(nil), votes...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := CalculateConsensus(shuffled)
		if got.FinalIntent != want.FinalIntent || got.Confidence != want.Confidence || got.Agreement != want.Agreement {
			t.Fatalf("consensus varies with vote order: %+v vs %+v", got, want)
		}
	}
}

func TestCalculateConsensus_ExcludesInvalidVotes(t *testing.T) {
	t.Parallel()
	votes := []Vote{
		completedVote("a", "saludo", 1, 0.9),
		{ID: "b", Intent: "despedida", Weight: 5, Confidence: 1, Status: VoteTimeout},
		{ID: "c", Intent: "despedida", Weight: 5, Confidence: 1, Status: VoteFailed},
	}

	c := CalculateConsensus(votes)
	if c.FinalIntent != "saludo" {
		t.Errorf("invalid votes influenced consensus: %+v", c)
	}
	if c.ParticipatingVotes != 1 || c.TotalVotes != 3 {
		t.Errorf("votes = %d/%d, want 1/3", c.ParticipatingVotes, c.TotalVotes)
	}
}

func TestCalculateConsensus_MergesEntitiesAndSubtasks(t *testing.T) {
	t.Parallel()
	a := completedVote("a", "reproducir_musica", 1, 0.9)
	a.Entities = []types.Entity{{Type: "genero", Value: "jazz", Confidence: 0.9}}
	a.Subtasks = []ProposedSubtask{{Action: "reproducir_musica", Entities: map[string]string{"genero": "jazz"}}}

	b := completedVote("b", "reproducir_musica", 1, 0.8)
	b.Entities = []types.Entity{
		{Type: "genero", Value: "rock", Confidence: 0.5},
		{Type: "artista", Value: "Coltrane", Confidence: 0.7},
	}
	b.Subtasks = []ProposedSubtask{
		{Action: "reproducir_musica", Entities: map[string]string{"genero": "Jazz "}},
		{Action: "reproducir_musica", Entities: map[string]string{"genero": "rock"}},
	}

	c := CalculateConsensus([]Vote{a, b})
	if len(c.Entities) != 2 {
		t.Fatalf("entities = %+v", c.Entities)
	}
	// Higher-confidence genre wins the conflict; types sorted alphabetically.
	if c.Entities[0].Type != "artista" || c.Entities[1].Value != "jazz" {
		t.Errorf("entity merge wrong: %+v", c.Entities)
	}
	// "jazz" and "Jazz " canonicalize to the same subtask.
	if len(c.Subtasks) != 2 {
		t.Errorf("subtasks = %+v", c.Subtasks)
	}
}
