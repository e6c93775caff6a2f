package classify

import (
	"context"
	"testing"

	"github.com/PuertOcho/puertocho-intent/internal/intent"
	"github.com/PuertOcho/puertocho-intent/internal/vector"
	embmock "github.com/PuertOcho/puertocho-intent/pkg/provider/embeddings/mock"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	llmmock "github.com/PuertOcho/puertocho-intent/pkg/provider/llm/mock"
)

// fakeStore returns canned retrieval results.
type fakeStore struct {
	results []vector.Result
	err     error
}

func (s *fakeStore) Upsert(ctx context.Context, doc vector.Document) error { return nil }
func (s *fakeStore) Delete(ctx context.Context, id string) error           { return nil }
func (s *fakeStore) Get(ctx context.Context, id string) (vector.Document, error) {
	return vector.Document{}, vector.ErrNotFound
}
func (s *fakeStore) Count(ctx context.Context) (int, error) { return len(s.results), nil }

func (s *fakeStore) SearchTopK(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]vector.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := []vector.Result{}
	for _, r := range s.results {
		if r.Similarity >= minSimilarity {
			out = append(out, r)
		}
	}
	return out, nil
}

func lightExamples() []vector.Result {
	return []vector.Result{
		{Document: vector.Document{ID: "encender_luz#0", IntentID: "encender_luz", Text: "enciende la luz"}, Similarity: 0.92},
		{Document: vector.Document{ID: "encender_luz#1", IntentID: "encender_luz", Text: "dale a la luz del salón"}, Similarity: 0.88},
		{Document: vector.Document{ID: "apagar_luz#0", IntentID: "apagar_luz", Text: "apaga la luz"}, Similarity: 0.61},
	}
}

func testRegistry() *intent.Registry {
	return intent.NewStaticRegistry(intent.DefaultCatalogue())
}

func TestClassify_PrimaryAccepted(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"intent":"encender_luz","confidence":0.95,"entities":{"lugar":"salón"},"reasoning":"coincide con los ejemplos"}`,
		},
	}
	cfg := ladderConfig()
	cfg.TopK = 3

	c := NewClassifier(&embmock.Provider{}, &fakeStore{results: lightExamples()}, provider, testRegistry(), cfg)

	result, err := c.Classify(context.Background(), "enciende la luz del salón", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IntentID != "encender_luz" {
		t.Errorf("intent = %q", result.IntentID)
	}
	if result.FallbackLevel != 0 {
		t.Errorf("fallback level = %d, want 0", result.FallbackLevel)
	}
	if result.Confidence < 0.7 || result.Confidence > 1 {
		t.Errorf("confidence = %v", result.Confidence)
	}
	if len(result.ExamplesUsed) != 3 {
		t.Errorf("examples used = %v", result.ExamplesUsed)
	}
	if len(result.Entities) != 1 || result.Entities[0].Type != "lugar" || result.Entities[0].Value != "salón" {
		t.Errorf("entities = %+v", result.Entities)
	}
}

func TestClassify_WeakResultFallsBack(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"intent":"ayuda","confidence":0.1,"reasoning":"no está claro"}`,
		},
	}
	cfg := ladderConfig()
	cfg.TopK = 3

	c := NewClassifier(&embmock.Provider{}, &fakeStore{}, provider, testRegistry(), cfg,
		WithFallback(NewFallback(cfg)))

	result, err := c.Classify(context.Background(), "hola, buenos días", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IntentID != "saludo" || result.FallbackLevel != 2 {
		t.Errorf("result = %+v, want saludo via level 2", result)
	}
	if result.Latency <= 0 {
		t.Errorf("latency not recorded: %v", result.Latency)
	}
}

func TestClassify_UnknownIntentIsError(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"intent":"lanzar_cohete","confidence":0.9}`,
		},
	}
	c := NewClassifier(&embmock.Provider{}, &fakeStore{}, provider, testRegistry(), ladderConfig())

	if _, err := c.Classify(context.Background(), "x", nil); err == nil {
		t.Fatal("unknown intent must be an error without a fallback")
	}
}

func TestClassify_UnparsableOutputAbsorbedByLadder(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "lo siento, no puedo"},
	}
	cfg := ladderConfig()
	c := NewClassifier(&embmock.Provider{}, &fakeStore{}, provider, testRegistry(), cfg,
		WithFallback(NewFallback(cfg)))

	result, err := c.Classify(context.Background(), "gracias", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IntentID != "agradecimiento" || result.FallbackLevel != 2 {
		t.Errorf("result = %+v, want agradecimiento via level 2", result)
	}
}

func TestClassify_PerIntentExampleBudget(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"intent":"encender_luz","confidence":0.95}`,
		},
	}
	// encender_luz allows a single retrieval example; the second one from
	// lightExamples must be dropped while apagar_luz keeps its own.
	cat := intent.NewCatalogue(1, []intent.Definition{{
		ID:                  "encender_luz",
		Description:         "encender una luz",
		Examples:            []string{"enciende la luz"},
		ConfidenceThreshold: 0.1,
		MaxRAGExamples:      1,
	}, {
		ID:                  "apagar_luz",
		Description:         "apagar una luz",
		Examples:            []string{"apaga la luz"},
		ConfidenceThreshold: 0.1,
		MaxRAGExamples:      5,
	}})
	cfg := ladderConfig()
	cfg.TopK = 3

	c := NewClassifier(&embmock.Provider{}, &fakeStore{results: lightExamples()}, provider,
		intent.NewStaticRegistry(cat), cfg)

	result, err := c.Classify(context.Background(), "enciende la luz del salón", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"encender_luz#0", "apagar_luz#0"}
	if len(result.ExamplesUsed) != len(want) {
		t.Fatalf("examples used = %v, want %v", result.ExamplesUsed, want)
	}
	for i, id := range want {
		if result.ExamplesUsed[i] != id {
			t.Errorf("examples used[%d] = %q, want %q", i, result.ExamplesUsed[i], id)
		}
	}
}

func TestClassify_IntentThresholdOverride(t *testing.T) {
	t.Parallel()
	// The model is fairly sure, but the intent demands more; the ladder picks
	// up and level 1 reclassifies to the same answer with a penalty.
	provider := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"intent":"encender_luz","confidence":0.5}`,
		},
	}
	cat := intent.NewCatalogue(1, []intent.Definition{{
		ID:                  "encender_luz",
		Description:         "encender una luz",
		Examples:            []string{"enciende la luz"},
		ConfidenceThreshold: 0.99,
		MaxRAGExamples:      3,
	}, {
		ID:                  intent.HelpIntentID,
		Description:         "ayuda",
		Examples:            []string{"ayuda"},
		ConfidenceThreshold: 0.7,
		MaxRAGExamples:      3,
	}})
	cfg := ladderConfig()
	cfg.TopK = 3

	c := NewClassifier(&embmock.Provider{}, &fakeStore{results: lightExamples()}, provider,
		intent.NewStaticRegistry(cat), cfg, WithFallback(NewFallback(cfg)))

	result, err := c.Classify(context.Background(), "enciende la luz del salón", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.FallbackLevel != 1 {
		t.Errorf("fallback level = %d, want 1 (reduced-similarity reclassification)", result.FallbackLevel)
	}
	if result.IntentID != "encender_luz" {
		t.Errorf("intent = %q", result.IntentID)
	}
}
