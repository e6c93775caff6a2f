package classify

import (
	"math"
	"strings"
	"time"

	"github.com/PuertOcho/puertocho-intent/internal/config"
)

// Signals are the raw inputs to the ten-signal confidence score for one
// classification.
type Signals struct {
	// LLMSelf is the model's self-reported confidence.
	LLMSelf float64

	// Similarities are the retrieval similarities, descending.
	Similarities []float64

	// RetrievedIntents are the intent labels of the retrieved examples,
	// parallel to Similarities.
	RetrievedIntents []string

	// ChosenIntent is the intent the model picked.
	ChosenIntent string

	// ExpectedK is the retrieval k that was requested.
	ExpectedK int

	// Latency is the end-to-end classification time.
	Latency time.Duration

	// Embedding is the utterance embedding.
	Embedding []float32

	// HasContextMetadata reports whether session metadata was available.
	HasContextMetadata bool

	// Utterance is the classified text, used for robustness cues.
	Utterance string

	// UsedFallback reports whether any fallback strategy contributed.
	UsedFallback bool
}

// Scorer combines the ten signals into a final confidence using configured
// weights, then applies a multiplicative quality factor. Stateless and safe
// for concurrent use.
type Scorer struct {
	weights    config.ConfidenceWeights
	thresholds config.ConfidenceThresholds
}

// NewScorer creates a scorer from the confidence configuration.
func NewScorer(cfg config.ConfidenceConfig) *Scorer {
	return &Scorer{weights: cfg.Weights, thresholds: cfg.Thresholds}
}

// Score returns the weighted confidence in [0,1].
func (s *Scorer) Score(sig Signals) float64 {
	w := s.weights
	score := w.LLMSelf*clamp01(sig.LLMSelf) +
		w.RetrievalSimilarity*meanFloat(sig.Similarities) +
		w.IntentConsistency*intentConsistency(sig.RetrievedIntents, sig.ChosenIntent) +
		w.RetrievalCount*retrievalCount(len(sig.Similarities), sig.ExpectedK) +
		w.SemanticDiversity*clamp01(1-stddev(sig.Similarities)) +
		w.Temporal*temporalConfidence(sig.Latency) +
		w.EmbeddingQuality*embeddingQuality(sig.Embedding) +
		w.SimilarityEntropy*similarityPeakedness(sig.Similarities) +
		w.ContextualBonus*contextualBonus(sig) +
		w.PromptRobustness*promptRobustness(sig.Utterance)

	return clamp01(score * s.qualityFactor(sig))
}

// qualityFactor applies one multiplicative penalty per triggered condition:
// thin retrieval, slow classification, fallback use.
func (s *Scorer) qualityFactor(sig Signals) float64 {
	penalty := s.thresholds.QualityPenalty
	factor := 1.0
	if len(sig.Similarities) < s.thresholds.MinExamples {
		factor *= penalty
	}
	if sig.Latency > s.thresholds.MaxLatency() {
		factor *= penalty
	}
	if sig.UsedFallback {
		factor *= penalty
	}
	return factor
}

func intentConsistency(retrieved []string, chosen string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	matching := 0
	for _, id := range retrieved {
		if id == chosen {
			matching++
		}
	}
	return float64(matching) / float64(len(retrieved))
}

func retrievalCount(got, expected int) float64 {
	if expected <= 0 {
		return 0
	}
	return clamp01(float64(got) / float64(expected))
}

// temporalConfidence buckets latency: faster classifications score higher.
func temporalConfidence(latency time.Duration) float64 {
	switch {
	case latency < 500*time.Millisecond:
		return 1.0
	case latency < time.Second:
		return 0.9
	case latency < 2*time.Second:
		return 0.75
	case latency < 5*time.Second:
		return 0.5
	}
	return 0.25
}

// embeddingQuality treats a flat (low-variance) embedding as degenerate.
func embeddingQuality(vec []float32) float64 {
	if len(vec) == 0 {
		return 0
	}
	vals := make([]float64, len(vec))
	for i, v := range vec {
		vals[i] = float64(v)
	}
	return clamp01(1 - stddev(vals))
}

// similarityPeakedness is 1 minus the normalized Shannon entropy of the
// similarity distribution: a peaked distribution (one clear winner) scores
// high, a uniform one scores low.
func similarityPeakedness(sims []float64) float64 {
	if len(sims) < 2 {
		return 0
	}
	var total float64
	for _, s := range sims {
		if s > 0 {
			total += s
		}
	}
	if total == 0 {
		return 0
	}
	var entropy float64
	for _, s := range sims {
		if s <= 0 {
			continue
		}
		p := s / total
		entropy -= p * math.Log(p)
	}
	return clamp01(1 - entropy/math.Log(float64(len(sims))))
}

func contextualBonus(sig Signals) float64 {
	score := 0.0
	if sig.HasContextMetadata {
		score += 0.5
	}
	if len(sig.Similarities) > 0 {
		score += 0.5
	}
	return score
}

// promptRobustness scores the utterance's length and structure: a handful of
// words is ideal, single words and run-on utterances are fragile.
func promptRobustness(utterance string) float64 {
	words := len(strings.Fields(utterance))
	switch {
	case words == 0:
		return 0
	case words < 3:
		return 0.5
	case words <= 30:
		return 1.0
	}
	return 0.7
}

func meanFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	mean := meanFloat(vals)
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
