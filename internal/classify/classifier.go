// Package classify implements retrieval-augmented intent classification:
// embed the utterance, retrieve labelled examples from the vector store,
// prompt the LLM for a structured decision, and combine ten signals into a
// final confidence. When the primary result is weak a graduated five-level
// fallback ladder degrades gracefully down to the generic help intent.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/PuertOcho/puertocho-intent/internal/config"
	"github.com/PuertOcho/puertocho-intent/internal/intent"
	"github.com/PuertOcho/puertocho-intent/internal/observe"
	"github.com/PuertOcho/puertocho-intent/internal/session"
	"github.com/PuertOcho/puertocho-intent/internal/vector"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/embeddings"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

// Result is the outcome of classifying one utterance.
type Result struct {
	// IntentID is the chosen intent.
	IntentID string `json:"intent_id"`

	// Confidence is the final combined confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Entities are the entities the model extracted alongside the intent.
	Entities []types.Entity `json:"entities,omitempty"`

	// ExamplesUsed are the document ids of the retrieved examples.
	ExamplesUsed []string `json:"examples_used,omitempty"`

	// FallbackLevel is 0 for a primary classification, 1-5 for the fallback
	// ladder level that produced the result.
	FallbackLevel int `json:"fallback_level"`

	// FallbackReason explains why and how the ladder engaged.
	FallbackReason string `json:"fallback_reason,omitempty"`

	// Reasoning is the model's own explanation.
	Reasoning string `json:"reasoning,omitempty"`

	// Latency is the end-to-end classification time.
	Latency time.Duration `json:"latency"`
}

// CatalogueSource yields the current intent catalogue snapshot.
// [intent.Registry] implements it.
type CatalogueSource interface {
	Snapshot() *intent.Catalogue
}

const classificationPrompt = `Eres el clasificador de intenciones de un asistente de voz en español.
Dada la frase del usuario y ejemplos similares etiquetados, elige la intención correcta
de la lista de intenciones conocidas.
Responde SOLO con JSON: {"intent": "...", "confidence": 0.0, "entities": {"tipo": "valor"}, "reasoning": "..."}.
"confidence" es tu confianza en [0,1]. Si ninguna intención encaja usa "ayuda" con confianza baja.`

// llmClassification is the strict JSON shape the model must return.
type llmClassification struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
	Reasoning  string            `json:"reasoning"`
}

// Classifier is the retrieval-augmented classifier. Safe for concurrent use.
type Classifier struct {
	embedder embeddings.Provider
	store    vector.Store
	llm      llm.Provider
	intents  CatalogueSource
	cfg      config.RAGConfig
	scorer   *Scorer
	fallback *Fallback
	metrics  *observe.Metrics
	now      func() time.Time
}

// ClassifierOption configures a [Classifier].
type ClassifierOption func(*Classifier)

// WithFallback attaches the graduated fallback ladder.
func WithFallback(f *Fallback) ClassifierOption {
	return func(c *Classifier) { c.fallback = f }
}

// WithMetrics overrides the default metrics sink.
func WithMetrics(m *observe.Metrics) ClassifierOption {
	return func(c *Classifier) { c.metrics = m }
}

// NewClassifier wires the retrieval classifier.
func NewClassifier(embedder embeddings.Provider, store vector.Store, provider llm.Provider, intents CatalogueSource, cfg config.RAGConfig, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		embedder: embedder,
		store:    store,
		llm:      provider,
		intents:  intents,
		cfg:      cfg,
		scorer:   NewScorer(cfg.Confidence),
		metrics:  observe.DefaultMetrics(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fallback != nil {
		c.fallback.bind(c.classifyOnce, c.scorer)
	}
	return c
}

// Classify runs the primary retrieval classification and, when the result is
// below the intent's acceptance threshold, the fallback ladder. The returned
// result always carries a valid intent; hard provider failures surface as
// errors only when no fallback can absorb them.
func (c *Classifier) Classify(ctx context.Context, utterance string, sctx *session.Context) (*Result, error) {
	start := c.now()

	primary, sigs, err := c.classifyOnce(ctx, utterance, sctx, c.cfg.MinSimilarity)
	if err != nil {
		if c.fallback == nil {
			return nil, err
		}
		slog.Warn("primary classification failed, degrading", "err", err)
		result, ferr := c.fallback.Run(ctx, utterance, sctx, nil)
		if ferr != nil {
			return nil, err
		}
		result.Latency = c.now().Sub(start)
		c.record(ctx, result)
		return result, nil
	}

	sigs.Latency = c.now().Sub(start)
	primary.Confidence = c.scorer.Score(*sigs)
	primary.Latency = sigs.Latency

	threshold := c.cfg.Confidence.Thresholds.Accept
	if def, ok := c.intents.Snapshot().Get(primary.IntentID); ok && def.ConfidenceThreshold > 0 {
		threshold = def.ConfidenceThreshold
	}

	if primary.Confidence >= threshold || c.fallback == nil {
		c.record(ctx, primary)
		return primary, nil
	}

	result, err := c.fallback.Run(ctx, utterance, sctx, primary)
	if err != nil {
		return nil, err
	}
	result.Latency = c.now().Sub(start)
	c.record(ctx, result)
	return result, nil
}

// classifyOnce performs one embed-retrieve-prompt-parse pass with the given
// similarity floor and returns the raw result plus the scoring signals.
func (c *Classifier) classifyOnce(ctx context.Context, utterance string, sctx *session.Context, minSimilarity float64) (*Result, *Signals, error) {
	catalogue := c.intents.Snapshot()

	vec, err := c.embedder.Embed(ctx, utterance)
	if err != nil {
		return nil, nil, fmt.Errorf("classify: embed: %w", err)
	}

	k := c.cfg.TopK
	results, err := c.store.SearchTopK(ctx, vec, k, minSimilarity)
	if err != nil {
		return nil, nil, fmt.Errorf("classify: retrieve: %w", err)
	}
	results = capExamples(results, catalogue)

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classificationPrompt,
		Messages: []types.Message{
			{Role: "user", Content: buildPrompt(utterance, results, catalogue)},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("classify: llm: %w", err)
	}

	var parsed llmClassification
	if err := llm.DecodeJSON(resp.Content, &parsed); err != nil {
		return nil, nil, fmt.Errorf("classify: %w", err)
	}
	if _, ok := catalogue.Get(parsed.Intent); !ok {
		return nil, nil, fmt.Errorf("classify: model chose unknown intent %q", parsed.Intent)
	}

	result := &Result{
		IntentID:  parsed.Intent,
		Reasoning: parsed.Reasoning,
		Entities:  entitiesFromMap(parsed.Entities, parsed.Confidence),
	}
	sims := make([]float64, len(results))
	retrievedIntents := make([]string, len(results))
	for i, r := range results {
		sims[i] = r.Similarity
		retrievedIntents[i] = r.Document.IntentID
		result.ExamplesUsed = append(result.ExamplesUsed, r.Document.ID)
	}

	sigs := &Signals{
		LLMSelf:            parsed.Confidence,
		Similarities:       sims,
		RetrievedIntents:   retrievedIntents,
		ChosenIntent:       parsed.Intent,
		ExpectedK:          k,
		Embedding:          vec,
		HasContextMetadata: sctx != nil && len(sctx.Metadata) > 0,
		Utterance:          utterance,
	}
	return result, sigs, nil
}

// capExamples honours each intent's max_rag_examples budget: no intent may
// contribute more examples to the prompt than its definition allows. Results
// arrive sorted by similarity, so the best examples per intent survive.
// Documents labelled with an unknown intent pass through uncapped.
func capExamples(results []vector.Result, catalogue *intent.Catalogue) []vector.Result {
	perIntent := make(map[string]int, len(results))
	out := results[:0]
	for _, r := range results {
		id := r.Document.IntentID
		if def, ok := catalogue.Get(id); ok && def.MaxRAGExamples > 0 {
			if perIntent[id] >= def.MaxRAGExamples {
				continue
			}
		}
		perIntent[id]++
		out = append(out, r)
	}
	return out
}

// buildPrompt assembles the user message: utterance, labelled examples, and
// the known intent list.
func buildPrompt(utterance string, retrieved []vector.Result, catalogue *intent.Catalogue) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Frase del usuario: %s\n\n", utterance)

	if len(retrieved) > 0 {
		sb.WriteString("Ejemplos similares:\n")
		for _, r := range retrieved {
			fmt.Fprintf(&sb, "- %q → %s (similitud %.2f)\n", r.Document.Text, r.Document.IntentID, r.Similarity)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Intenciones conocidas:\n")
	for _, def := range catalogue.All() {
		fmt.Fprintf(&sb, "- %s: %s\n", def.ID, def.Description)
	}
	return sb.String()
}

// entitiesFromMap converts the model's entity map into typed entities sorted
// for determinism.
func entitiesFromMap(m map[string]string, confidence float64) []types.Entity {
	if len(m) == 0 {
		return nil
	}
	out := make([]types.Entity, 0, len(m))
	for typ, value := range m {
		out = append(out, types.Entity{
			Type:       typ,
			Value:      value,
			Confidence: clamp01(confidence),
			Source:     "llm",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func (c *Classifier) record(ctx context.Context, result *Result) {
	c.metrics.RecordClassification(ctx, result.IntentID, result.FallbackLevel)
	c.metrics.ClassificationDuration.Record(ctx, result.Latency.Seconds())
}
