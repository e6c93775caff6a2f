package session_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuertOcho/puertocho-intent/internal/session"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	llmmock "github.com/PuertOcho/puertocho-intent/pkg/provider/llm/mock"
)

func TestLLMSummariser_FormatsTranscript(t *testing.T) {
	t.Parallel()
	var gotReq llm.CompletionRequest
	provider := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			gotReq = req
			return &llm.CompletionResponse{Content: "el usuario encendió la luz"}, nil
		},
	}
	s := session.NewLLMSummariser(provider)

	turns := []session.Turn{
		{UserText: "enciende la luz", AssistantText: "Hecho.", Timestamp: time.Now()},
		{UserText: "gracias", Timestamp: time.Now()},
	}
	summary, err := s.Summarise(context.Background(), "hablamos del tiempo", turns)
	if err != nil {
		t.Fatal(err)
	}
	if summary != "el usuario encendió la luz" {
		t.Errorf("summary = %q", summary)
	}

	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", gotReq.Messages)
	}
	transcript := gotReq.Messages[0].Content
	for _, want := range []string{
		"[resumen previo]: hablamos del tiempo",
		"[usuario]: enciende la luz",
		"[asistente]: Hecho.",
		"[usuario]: gracias",
	} {
		if !strings.Contains(transcript, want) {
			t.Errorf("transcript missing %q:\n%s", want, transcript)
		}
	}
}

func TestLLMSummariser_NoTurnsKeepsPrior(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{CompleteErr: errors.New("must not be called")}
	s := session.NewLLMSummariser(provider)

	summary, err := s.Summarise(context.Background(), "resumen previo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary != "resumen previo" {
		t.Errorf("summary = %q", summary)
	}
	if provider.CallCount() != 0 {
		t.Errorf("provider called %d times", provider.CallCount())
	}
}

func TestLLMSummariser_ProviderError(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{CompleteErr: errors.New("provider down")}
	s := session.NewLLMSummariser(provider)

	if _, err := s.Summarise(context.Background(), "", []session.Turn{{UserText: "hola"}}); err == nil {
		t.Fatal("provider failure not surfaced")
	}
}
