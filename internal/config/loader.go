package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfidenceWeights is applied when rag.confidence.weights is absent.
// The ten weights sum to 1.0.
var defaultConfidenceWeights = ConfidenceWeights{
	LLMSelf:             0.25,
	RetrievalSimilarity: 0.15,
	IntentConsistency:   0.15,
	RetrievalCount:      0.05,
	SemanticDiversity:   0.10,
	Temporal:            0.05,
	EmbeddingQuality:    0.05,
	SimilarityEntropy:   0.10,
	ContextualBonus:     0.05,
	PromptRobustness:    0.05,
}

// applyDefaults fills zero-valued fields with their documented defaults.
// Duration-style fields default lazily via their accessor methods; only
// structural defaults are materialised here.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8090"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = VectorMemory
	}
	if cfg.Vector.Dimensions <= 0 {
		cfg.Vector.Dimensions = 1536
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "intent-examples"
	}
	if cfg.Session.CacheSize <= 0 {
		cfg.Session.CacheSize = 512
	}
	if cfg.Session.CompressThresholdBytes <= 0 {
		cfg.Session.CompressThresholdBytes = 4096
	}
	if cfg.Session.MaxContextVersions <= 0 {
		cfg.Session.MaxContextVersions = 5
	}
	if cfg.Session.CompactionWindow <= 0 {
		cfg.Session.CompactionWindow = 10
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.MinSimilarity <= 0 {
		cfg.RAG.MinSimilarity = 0.35
	}
	if cfg.RAG.Fallback.SimilarityReductionFactor <= 0 {
		cfg.RAG.Fallback.SimilarityReductionFactor = 0.5
	}
	if cfg.RAG.Fallback.MinConfidenceForDegradation <= 0 {
		cfg.RAG.Fallback.MinConfidenceForDegradation = 0.3
	}
	if cfg.RAG.Confidence.Weights.IsZero() {
		cfg.RAG.Confidence.Weights = defaultConfidenceWeights
	}
	if cfg.RAG.Confidence.Thresholds.Accept <= 0 {
		cfg.RAG.Confidence.Thresholds.Accept = 0.7
	}
	if cfg.RAG.Confidence.Thresholds.MinExamples <= 0 {
		cfg.RAG.Confidence.Thresholds.MinExamples = 2
	}
	if cfg.RAG.Confidence.Thresholds.QualityPenalty <= 0 {
		cfg.RAG.Confidence.Thresholds.QualityPenalty = 0.9
	}
	if cfg.MoE.ConsensusThreshold <= 0 {
		cfg.MoE.ConsensusThreshold = 0.5
	}
	if cfg.MoE.DebateImprovementThreshold <= 0 {
		cfg.MoE.DebateImprovementThreshold = 0.05
	}
	if cfg.SlotFilling.MaxAttempts <= 0 {
		cfg.SlotFilling.MaxAttempts = 3
	}
	if cfg.SlotFilling.ConfidenceThreshold <= 0 {
		cfg.SlotFilling.ConfidenceThreshold = 0.4
	}
	if cfg.Orchestrator.MaxParallelTasks <= 0 {
		cfg.Orchestrator.MaxParallelTasks = 4
	}
	if cfg.Orchestrator.MaxRetries <= 0 {
		cfg.Orchestrator.MaxRetries = 2
	}
	if cfg.Progress.UpdateIntervalMs <= 0 {
		cfg.Progress.UpdateIntervalMs = 250
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; classification and decomposition will fail without a backend")
	}
	if cfg.Providers.Embeddings.Name == "" {
		slog.Warn("providers.embeddings is not configured; retrieval classification will be unavailable")
	}

	if !cfg.Vector.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("vector.backend %q is invalid; valid values: memory, postgres", cfg.Vector.Backend))
	}
	if cfg.Vector.Backend == VectorPostgres && cfg.Vector.PostgresDSN == "" {
		errs = append(errs, errors.New("vector.backend is postgres but vector.postgres_dsn is empty"))
	}

	if sum := cfg.RAG.Confidence.Weights.Sum(); math.Abs(sum-1.0) > 0.001 {
		errs = append(errs, fmt.Errorf("rag.confidence.weights must sum to 1.0, got %.3f", sum))
	}
	if f := cfg.RAG.Fallback.SimilarityReductionFactor; f <= 0 || f >= 1 {
		errs = append(errs, fmt.Errorf("rag.fallback.similarity_reduction_factor %.2f is out of range (0, 1)", f))
	}
	if cfg.RAG.MinSimilarity < 0 || cfg.RAG.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("rag.min_similarity %.2f is out of range [0, 1]", cfg.RAG.MinSimilarity))
	}

	seen := make(map[string]int, len(cfg.MoE.Participants))
	for i, p := range cfg.MoE.Participants {
		prefix := fmt.Sprintf("moe.participants[%d]", i)
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := seen[p.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of moe.participants[%d]", prefix, p.ID, prev))
		} else {
			seen[p.ID] = i
		}
		if p.Weight < 0 || p.Weight > 1 {
			errs = append(errs, fmt.Errorf("%s.weight %.2f is out of range [0, 1]", prefix, p.Weight))
		}
	}
	if cfg.MoE.Enabled && len(cfg.MoE.Participants) == 1 {
		slog.Warn("moe.enabled with a single participant degenerates to single-LLM mode")
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateProviderName warns when a provider name is set but not recognised.
// Unknown names are not fatal; a new backend may be newer than this list.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	for _, valid := range ValidProviderNames[kind] {
		if name == valid {
			return
		}
	}
	slog.Warn("unrecognised provider name", "kind", kind, "name", name)
}
