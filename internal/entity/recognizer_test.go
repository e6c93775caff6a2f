package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PuertOcho/puertocho-intent/internal/session"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	llmmock "github.com/PuertOcho/puertocho-intent/pkg/provider/llm/mock"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// staticExtractor returns fixed entities or an error.
type staticExtractor struct {
	name string
	ents []types.Entity
	err  error
}

func (s *staticExtractor) Name() string { return s.name }

func (s *staticExtractor) Extract(ctx context.Context, req Request) ([]types.Entity, error) {
	return s.ents, s.err
}

func TestRecognizer_MergeKeepsHighestConfidence(t *testing.T) {
	t.Parallel()
	r := NewRecognizer([]Extractor{
		&staticExtractor{name: "a", ents: []types.Entity{
			{Type: "lugar", Value: "salón", Confidence: 0.9, Source: "pattern"},
		}},
		&staticExtractor{name: "b", ents: []types.Entity{
			{Type: "lugar", Value: "Salón", Confidence: 0.5, Source: "context"},
		}},
	})

	ents, err := r.Recognize(context.Background(), Request{Utterance: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 {
		t.Fatalf("got %d entities, want 1: %+v", len(ents), ents)
	}
	if ents[0].Confidence != 0.9 || ents[0].Source != "pattern" {
		t.Errorf("merge kept the wrong extraction: %+v", ents[0])
	}
	if ents[0].Normalized != "salón" {
		t.Errorf("Normalized = %q", ents[0].Normalized)
	}
}

func TestRecognizer_DropsBelowFloor(t *testing.T) {
	t.Parallel()
	r := NewRecognizer([]Extractor{
		&staticExtractor{name: "a", ents: []types.Entity{
			{Type: "lugar", Value: "cocina", Confidence: 0.2},
			{Type: "hora", Value: "07:30", Confidence: 0.8},
		}},
	}, WithMinConfidence(0.4))

	ents, err := r.Recognize(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 || ents[0].Type != "hora" {
		t.Errorf("floor not applied: %+v", ents)
	}
}

func TestRecognizer_ExtractorFailureIsTolerated(t *testing.T) {
	t.Parallel()
	r := NewRecognizer([]Extractor{
		&staticExtractor{name: "broken", err: errors.New("provider down")},
		&staticExtractor{name: "ok", ents: []types.Entity{
			{Type: "lugar", Value: "cocina", Confidence: 0.9},
		}},
	})

	ents, err := r.Recognize(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 {
		t.Errorf("surviving extractor's output lost: %+v", ents)
	}
}

func TestRecognizer_InvalidValuesDropped(t *testing.T) {
	t.Parallel()
	r := NewRecognizer([]Extractor{
		&staticExtractor{name: "a", ents: []types.Entity{
			{Type: "temperatura", Value: "99 grados", Confidence: 0.9},
			{Type: "genero", Value: "polka", Confidence: 0.9},
		}},
	})

	ents, err := r.Recognize(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 0 {
		t.Errorf("invalid values survived: %+v", ents)
	}
}

func TestLLMExtractor(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `[{"type":"hora","value":"siete y media","confidence":0.85}]`,
		},
	}

	ents, err := NewLLMExtractor(provider).Extract(context.Background(), Request{
		Utterance: "ponme una alarma a las siete y media",
		Types:     []string{"hora"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ents) != 1 || ents[0].Value != "siete y media" || ents[0].Source != "llm" {
		t.Fatalf("ents = %+v", ents)
	}
}

func TestLLMExtractor_UnparsableIsError(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "no puedo ayudarte con eso"},
	}
	if _, err := NewLLMExtractor(provider).Extract(context.Background(), Request{Types: []string{"hora"}}); err == nil {
		t.Fatal("unparsable output must surface as an error")
	}
}

func TestContextExtractor(t *testing.T) {
	t.Parallel()
	sctx := &session.Context{
		EntityCache: map[string]session.CachedEntity{
			"ubicacion": {Value: "Madrid", Confidence: 1.0, UpdatedAt: time.Now()},
		},
	}
	turns := []session.Turn{
		{Slots: map[string]string{"hora": "07:30"}, Confidence: 0.9},
	}

	ents, err := NewContextExtractor().Extract(context.Background(), Request{
		Types:       []string{"ubicacion", "hora", "genero"},
		Context:     sctx,
		RecentTurns: turns,
	})
	if err != nil {
		t.Fatal(err)
	}

	if e := findEntity(ents, "ubicacion", "Madrid"); e == nil || e.Confidence != 0.8 {
		t.Errorf("cached entity missing or undecayed: %+v", ents)
	}
	if e := findEntity(ents, "hora", "07:30"); e == nil {
		t.Errorf("turn slot not recovered: %+v", ents)
	}
	if e := findEntity(ents, "genero", ""); e != nil {
		t.Errorf("fabricated entity: %+v", e)
	}
}
