package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/PuertOcho/puertocho-intent/internal/config"
	"github.com/PuertOcho/puertocho-intent/internal/intent"
	"github.com/PuertOcho/puertocho-intent/internal/session"
)

// ReclassifyFunc re-runs a full retrieval classification with a different
// similarity floor. The classifier provides its own classifyOnce here when
// the fallback is attached.
type ReclassifyFunc func(ctx context.Context, utterance string, sctx *session.Context, minSimilarity float64) (*Result, *Signals, error)

// reducedSimilarityPenalty is the confidence penalty for level 1 results.
const reducedSimilarityPenalty = 0.8

// heuristicRules are the cheap lexical rules of fallback level 2. Terms are
// matched as substrings of the lowercased utterance.
var heuristicRules = []struct {
	intent string
	terms  []string
}{
	{"saludo", []string{"hola", "buenos días", "buenas tardes", "buenas noches", "qué tal", "que tal"}},
	{"despedida", []string{"adiós", "adios", "hasta luego", "hasta mañana", "nos vemos", "chao"}},
	{"agradecimiento", []string{"gracias", "te lo agradezco", "muy amable"}},
	{intent.HelpIntentID, []string{"ayuda", "ayúdame", "ayudame", "qué puedes hacer", "que puedes hacer", "no sé", "no se"}},
}

// deviceDefaults maps the session's device_type metadata to a plausible
// default intent for fallback level 4.
var deviceDefaults = map[string]string{
	"speaker": "reproducir_musica",
	"display": "consultar_tiempo",
}

// timeOfDayDefaults maps the session's time_of_day metadata to a plausible
// default intent for fallback level 4.
var timeOfDayDefaults = map[string]string{
	"morning": "consultar_tiempo",
	"night":   "programar_alarma",
}

// contextAnalysisConfidence is the fixed confidence of a level 4 result.
const contextAnalysisConfidence = 0.35

// genericFallbackConfidence is the minimum confidence carried by the level 5
// help-intent result.
const genericFallbackConfidence = 0.1

// Fallback is the graduated five-level degradation ladder. Levels are tried
// in strict ascending order; the first whose confidence meets the degradation
// floor wins. Level 5 always succeeds. Safe for concurrent use.
type Fallback struct {
	cfg       config.FallbackConfig
	baseFloor float64

	// set by the classifier when attached via WithFallback
	reclassify ReclassifyFunc
	scorer     *Scorer
}

// NewFallback creates the ladder from the RAG configuration. Level 1 is
// skipped until a classifier attaches its reclassification hook.
func NewFallback(cfg config.RAGConfig) *Fallback {
	return &Fallback{
		cfg:       cfg.Fallback,
		baseFloor: cfg.MinSimilarity,
		scorer:    NewScorer(cfg.Confidence),
	}
}

// bind is called by the classifier when the ladder is attached.
func (f *Fallback) bind(reclassify ReclassifyFunc, scorer *Scorer) {
	if f.reclassify == nil {
		f.reclassify = reclassify
	}
	if scorer != nil {
		f.scorer = scorer
	}
}

// Run walks the ladder. primary may be nil when the primary classification
// failed outright. When gradual degradation is disabled the ladder is not
// walked at all: the weak primary result is returned as-is, or the generic
// help result when there is none.
func (f *Fallback) Run(ctx context.Context, utterance string, sctx *session.Context, primary *Result) (*Result, error) {
	if !f.cfg.EnableGradualDegradation {
		if primary != nil {
			primary.FallbackReason = "gradual degradation disabled"
			return primary, nil
		}
		return &Result{
			IntentID:       intent.HelpIntentID,
			Confidence:     genericFallbackConfidence,
			FallbackLevel:  5,
			FallbackReason: "gradual degradation disabled",
		}, nil
	}

	floor := f.cfg.MinConfidenceForDegradation
	if floor <= 0 {
		floor = 0.3
	}

	type level struct {
		n   int
		try func() *Result
	}
	levels := []level{
		{1, func() *Result { return f.reducedSimilarity(ctx, utterance, sctx) }},
		{2, func() *Result { return f.heuristics(utterance) }},
		{3, func() *Result { return f.keywordMapping(utterance) }},
		{4, func() *Result { return f.contextAnalysis(sctx) }},
	}

	for _, lvl := range levels {
		if !f.cfg.LevelEnabled(lvl.n) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result := lvl.try()
		if result == nil || result.Confidence < floor {
			continue
		}
		result.FallbackLevel = lvl.n
		slog.Debug("fallback level accepted",
			"level", lvl.n, "intent", result.IntentID, "confidence", result.Confidence)
		return result, nil
	}

	return &Result{
		IntentID:       intent.HelpIntentID,
		Confidence:     genericFallbackConfidence,
		FallbackLevel:  5,
		FallbackReason: "no strategy produced an acceptable intent",
	}, nil
}

// reducedSimilarity (level 1) re-retrieves with a lowered similarity floor
// and reclassifies, applying a 20 % confidence penalty.
func (f *Fallback) reducedSimilarity(ctx context.Context, utterance string, sctx *session.Context) *Result {
	if f.reclassify == nil {
		return nil
	}
	factor := f.cfg.SimilarityReductionFactor
	if factor <= 0 {
		factor = 0.5
	}

	result, sigs, err := f.reclassify(ctx, utterance, sctx, f.baseFloor*factor)
	if err != nil {
		slog.Debug("reduced-similarity reclassification failed", "err", err)
		return nil
	}
	sigs.UsedFallback = true
	result.Confidence = f.scorer.Score(*sigs) * reducedSimilarityPenalty
	result.FallbackReason = fmt.Sprintf("reclassified with similarity floor %.2f", f.baseFloor*factor)
	return result
}

// heuristics (level 2) maps greetings, thanks, goodbyes, and help requests to
// their intents by lexical rules.
func (f *Fallback) heuristics(utterance string) *Result {
	lower := strings.ToLower(utterance)
	for _, rule := range heuristicRules {
		for _, term := range rule.terms {
			if strings.Contains(lower, term) {
				return &Result{
					IntentID:       rule.intent,
					Confidence:     0.6,
					FallbackReason: fmt.Sprintf("lexical rule %q", term),
				}
			}
		}
	}
	return nil
}

// keywordMapping (level 3) scores the configured keyword table by earliest
// position and frequency, tolerating one typo on longer keywords.
func (f *Fallback) keywordMapping(utterance string) *Result {
	if len(f.cfg.Keywords) == 0 {
		return nil
	}
	tokens := strings.Fields(strings.ToLower(utterance))
	if len(tokens) == 0 {
		return nil
	}

	// Iterate in sorted order so ties resolve the same way every run.
	keywords := make([]string, 0, len(f.cfg.Keywords))
	for keyword := range f.cfg.Keywords {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)

	best := (*Result)(nil)
	bestScore := 0.0
	for _, keyword := range keywords {
		intentID := f.cfg.Keywords[keyword]
		kw := strings.ToLower(keyword)
		freq, first := 0, -1
		for i, tok := range tokens {
			if tok == kw || (len(kw) >= 4 && matchr.DamerauLevenshtein(tok, kw) <= 1) {
				freq++
				if first < 0 {
					first = i
				}
			}
		}
		if freq == 0 {
			continue
		}

		positionBonus := 0.1 * (1 - float64(first)/float64(len(tokens)))
		frequencyBonus := 0.05 * float64(min(freq, 3))
		score := 0.35 + positionBonus + frequencyBonus
		if score > bestScore {
			bestScore = score
			best = &Result{
				IntentID:       intentID,
				Confidence:     clamp01(score),
				FallbackReason: fmt.Sprintf("keyword %q at position %d", keyword, first),
			}
		}
	}
	return best
}

// contextAnalysis (level 4) picks a plausible default intent from session
// metadata (device type, time of day).
func (f *Fallback) contextAnalysis(sctx *session.Context) *Result {
	if sctx == nil || len(sctx.Metadata) == 0 {
		return nil
	}
	if intentID, ok := deviceDefaults[sctx.Metadata["device_type"]]; ok {
		return &Result{
			IntentID:       intentID,
			Confidence:     contextAnalysisConfidence,
			FallbackReason: fmt.Sprintf("device_type=%s default", sctx.Metadata["device_type"]),
		}
	}
	if intentID, ok := timeOfDayDefaults[sctx.Metadata["time_of_day"]]; ok {
		return &Result{
			IntentID:       intentID,
			Confidence:     contextAnalysisConfidence,
			FallbackReason: fmt.Sprintf("time_of_day=%s default", sctx.Metadata["time_of_day"]),
		}
	}
	return nil
}
