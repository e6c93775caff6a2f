// Package config provides the configuration schema, loader, and hot-reload
// watcher for the puertocho-intent service.
package config

import "time"

// LogLevel controls log verbosity for the service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VectorBackend selects the vector store implementation.
type VectorBackend string

const (
	// VectorMemory keeps the embedding corpus in process memory (chromem).
	VectorMemory VectorBackend = "memory"

	// VectorPostgres uses a PostgreSQL table with a pgvector index.
	VectorPostgres VectorBackend = "postgres"
)

// IsValid reports whether b is a recognised vector backend.
func (b VectorBackend) IsValid() bool {
	return b == VectorMemory || b == VectorPostgres
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Session      SessionConfig      `yaml:"session"`
	Vector       VectorConfig       `yaml:"vector"`
	Intents      IntentsConfig      `yaml:"intents"`
	Tools        ToolsConfig        `yaml:"tools"`
	MoE          MoEConfig          `yaml:"moe"`
	RAG          RAGConfig          `yaml:"rag"`
	SlotFilling  SlotFillingConfig  `yaml:"slot_filling"`
	Orchestrator OrchestratorConfig `yaml:"task_orchestrator"`
	Progress     ProgressConfig     `yaml:"progress_tracker"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health endpoint listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the LLM and embeddings backends.
type ProvidersConfig struct {
	// LLM is the primary completion backend used by the classifier, the
	// single-LLM voting mode, slot question generation, and decomposition.
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary fails or its circuit
	// breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// Embeddings is the text-embedding backend feeding the vector store.
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the backend (e.g., "openai", "anthropic", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// TimeoutSeconds bounds each request. 0 means 30.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// MaxRetries is the retry budget for transient failures. 0 means 2.
	MaxRetries int `yaml:"max_retries"`
}

// Timeout returns the per-request timeout as a duration.
func (p ProviderEntry) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// SessionConfig holds settings for the conversational session store.
type SessionConfig struct {
	// RedisAddr is the address of the Redis instance backing session state
	// (e.g., "localhost:6379"). Empty selects the in-memory KV store.
	RedisAddr string `yaml:"redis_addr"`

	// RedisPassword authenticates against Redis. May be empty.
	RedisPassword string `yaml:"redis_password"`

	// RedisDB selects the Redis logical database.
	RedisDB int `yaml:"redis_db"`

	// TTLMinutes is the idle session time-to-live. Activity renews it.
	// 0 means 30.
	TTLMinutes int `yaml:"ttl_minutes"`

	// CacheSize is the capacity of the in-process LRU read cache. 0 means 512.
	CacheSize int `yaml:"cache_size"`

	// CacheStalenessMinutes bounds how long a cache entry is trusted without
	// re-reading the KV store. 0 means 30.
	CacheStalenessMinutes int `yaml:"cache_staleness_minutes"`

	// CompressThresholdBytes is the serialized-session size above which the
	// persisted payload is deflate-compressed. 0 means 4096.
	CompressThresholdBytes int `yaml:"compress_threshold_bytes"`

	// MaxContextVersions is the number of historical context snapshots kept
	// per session. 0 means 5.
	MaxContextVersions int `yaml:"max_context_versions"`

	// CompactionWindow is the number of most recent turns kept verbatim when
	// Compact summarises older history. 0 means 10.
	CompactionWindow int `yaml:"compaction_window"`

	// CleanupIntervalMinutes is the period of the expired-session sweep.
	// 0 means 5.
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
}

// TTL returns the session time-to-live as a duration.
func (s SessionConfig) TTL() time.Duration {
	if s.TTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.TTLMinutes) * time.Minute
}

// CacheStaleness returns the cache staleness bound as a duration.
func (s SessionConfig) CacheStaleness() time.Duration {
	if s.CacheStalenessMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.CacheStalenessMinutes) * time.Minute
}

// CleanupInterval returns the expired-session sweep period.
func (s SessionConfig) CleanupInterval() time.Duration {
	if s.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.CleanupIntervalMinutes) * time.Minute
}

// VectorConfig holds settings for the embedding corpus store.
type VectorConfig struct {
	// Backend selects the implementation: "memory" (default) or "postgres".
	Backend VectorBackend `yaml:"backend"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Dimensions is the embedding vector dimension. Must match the embeddings
	// provider's model. 0 means 1536.
	Dimensions int `yaml:"dimensions"`

	// Collection names the corpus (chromem collection / postgres table prefix).
	Collection string `yaml:"collection"`
}

// IntentsConfig locates the declarative intent catalogue.
type IntentsConfig struct {
	// CataloguePath is the YAML file listing intent definitions.
	CataloguePath string `yaml:"catalogue_path"`

	// ReloadIntervalSeconds is the hot-reload polling period. 0 means 5.
	ReloadIntervalSeconds int `yaml:"reload_interval_seconds"`
}

// ReloadInterval returns the catalogue polling period.
func (i IntentsConfig) ReloadInterval() time.Duration {
	if i.ReloadIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(i.ReloadIntervalSeconds) * time.Second
}

// ToolsConfig configures the tool action registry's HTTP invoker.
type ToolsConfig struct {
	// Endpoints maps action_id to the HTTP endpoint serving it. Actions
	// without an entry are registered but fail on Invoke.
	Endpoints map[string]string `yaml:"endpoints"`

	// TimeoutSeconds bounds each tool invocation. 0 means 10.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the per-invocation bound as a duration.
func (t ToolsConfig) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// MoEConfig configures the Mixture-of-Experts voting engine.
type MoEConfig struct {
	// Enabled turns multi-expert voting on. When false the engine degrades to
	// single-primary-LLM mode.
	Enabled bool `yaml:"enabled"`

	// ParallelVoting launches all expert votes concurrently; otherwise votes
	// run sequentially in participant order.
	ParallelVoting bool `yaml:"parallel_voting"`

	// TimeoutPerVoteSeconds bounds each expert's completion call. 0 means 15.
	TimeoutPerVoteSeconds int `yaml:"timeout_per_vote_seconds"`

	// ConsensusThreshold is the minimum consensus confidence; below it the
	// engine falls back to single-LLM mode for the request. 0 means 0.5.
	ConsensusThreshold float64 `yaml:"consensus_threshold"`

	// MaxDebateRounds caps debate iterations after the initial round.
	// 0 disables debate.
	MaxDebateRounds int `yaml:"max_debate_rounds"`

	// DebateImprovementThreshold ends the debate early when the
	// consensus-confidence gain between consecutive rounds drops below it.
	// 0 means 0.05.
	DebateImprovementThreshold float64 `yaml:"debate_consensus_improvement_threshold"`

	// Participants lists the voting experts. Defaults to three standard roles
	// bound to the primary LLM when empty.
	Participants []ParticipantConfig `yaml:"participants"`
}

// TimeoutPerVote returns the per-vote bound as a duration.
func (m MoEConfig) TimeoutPerVote() time.Duration {
	if m.TimeoutPerVoteSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(m.TimeoutPerVoteSeconds) * time.Second
}

// ParticipantConfig declares one voting expert.
type ParticipantConfig struct {
	// ID uniquely identifies the participant (e.g., "expert-smarthome").
	ID string `yaml:"id"`

	// Role selects the prompt template: "generalist", "critic", or a domain
	// tag matching intent expert_domain values.
	Role string `yaml:"role"`

	// Weight scales this expert's contribution to consensus, in [0,1].
	Weight float64 `yaml:"weight"`

	// Provider optionally binds the expert to a named LLM backend; empty uses
	// the primary provider.
	Provider string `yaml:"provider"`

	// Model optionally overrides the backend's default model.
	Model string `yaml:"model"`
}

// RAGConfig groups retrieval-classification settings.
type RAGConfig struct {
	// TopK is the default number of examples retrieved per classification
	// when the intent does not override it. 0 means 5.
	TopK int `yaml:"top_k"`

	// MinSimilarity is the retrieval similarity floor in [0,1]. Results below
	// it are discarded (the search returns empty rather than a best-effort
	// match). 0 means 0.35.
	MinSimilarity float64 `yaml:"min_similarity"`

	Fallback   FallbackConfig   `yaml:"fallback"`
	Confidence ConfidenceConfig `yaml:"confidence"`
}

// FallbackConfig configures graduated degradation when the primary
// classification is weak.
type FallbackConfig struct {
	// EnableGradualDegradation turns the five-level fallback ladder on.
	EnableGradualDegradation bool `yaml:"enable_gradual_degradation"`

	// SimilarityReductionFactor scales the similarity floor down at level 1.
	// 0 means 0.5.
	SimilarityReductionFactor float64 `yaml:"similarity_reduction_factor"`

	// MinConfidenceForDegradation is the floor a degraded result must meet to
	// be accepted. 0 means 0.3.
	MinConfidenceForDegradation float64 `yaml:"min_confidence_for_degradation"`

	// Per-level enable flags. All default to true when the ladder is enabled.
	EnableReducedSimilarity *bool `yaml:"enable_reduced_similarity"`
	EnableHeuristics        *bool `yaml:"enable_heuristics"`
	EnableKeywordMapping    *bool `yaml:"enable_keyword_mapping"`
	EnableContextAnalysis   *bool `yaml:"enable_context_analysis"`

	// Keywords maps lexical triggers to intent ids for level 3
	// (e.g., "alarma" → "programar_alarma").
	Keywords map[string]string `yaml:"keywords"`
}

// LevelEnabled reports whether the given fallback level (1–4) is enabled.
// Level 5 (generic fallback) cannot be disabled.
func (f FallbackConfig) LevelEnabled(level int) bool {
	flag := func(p *bool) bool { return p == nil || *p }
	switch level {
	case 1:
		return flag(f.EnableReducedSimilarity)
	case 2:
		return flag(f.EnableHeuristics)
	case 3:
		return flag(f.EnableKeywordMapping)
	case 4:
		return flag(f.EnableContextAnalysis)
	default:
		return true
	}
}

// ConfidenceConfig holds the ten-signal confidence scorer parameters.
type ConfidenceConfig struct {
	Weights    ConfidenceWeights    `yaml:"weights"`
	Thresholds ConfidenceThresholds `yaml:"thresholds"`
}

// ConfidenceWeights are the ten signal weights. They must sum to 1.0 (±0.001)
// after defaulting; [Validate] enforces this.
type ConfidenceWeights struct {
	LLMSelf             float64 `yaml:"llm_self"`
	RetrievalSimilarity float64 `yaml:"retrieval_similarity"`
	IntentConsistency   float64 `yaml:"intent_consistency"`
	RetrievalCount      float64 `yaml:"retrieval_count"`
	SemanticDiversity   float64 `yaml:"semantic_diversity"`
	Temporal            float64 `yaml:"temporal"`
	EmbeddingQuality    float64 `yaml:"embedding_quality"`
	SimilarityEntropy   float64 `yaml:"similarity_entropy"`
	ContextualBonus     float64 `yaml:"contextual_bonus"`
	PromptRobustness    float64 `yaml:"prompt_robustness"`
}

// Sum returns the total of all ten weights.
func (w ConfidenceWeights) Sum() float64 {
	return w.LLMSelf + w.RetrievalSimilarity + w.IntentConsistency +
		w.RetrievalCount + w.SemanticDiversity + w.Temporal +
		w.EmbeddingQuality + w.SimilarityEntropy + w.ContextualBonus +
		w.PromptRobustness
}

// IsZero reports whether no weight has been configured.
func (w ConfidenceWeights) IsZero() bool { return w.Sum() == 0 }

// ConfidenceThresholds are the acceptance and quality-penalty parameters.
type ConfidenceThresholds struct {
	// Accept is the default confidence threshold when an intent does not
	// declare its own. 0 means 0.7.
	Accept float64 `yaml:"accept"`

	// MinExamples is the retrieval count below which the quality factor
	// penalises the score. 0 means 2.
	MinExamples int `yaml:"min_examples"`

	// MaxLatencyMs is the classification latency above which the quality
	// factor penalises the score. 0 means 3000.
	MaxLatencyMs int `yaml:"max_latency_ms"`

	// QualityPenalty is the multiplicative factor applied per triggered
	// quality condition. 0 means 0.9.
	QualityPenalty float64 `yaml:"quality_penalty"`
}

// MaxLatency returns the latency bound as a duration.
func (t ConfidenceThresholds) MaxLatency() time.Duration {
	if t.MaxLatencyMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(t.MaxLatencyMs) * time.Millisecond
}

// SlotFillingConfig configures the slot-filling state machine.
type SlotFillingConfig struct {
	// EnableDynamicQuestions lets the machine ask the LLM to phrase follow-up
	// questions when the intent has no template for the missing slot.
	EnableDynamicQuestions bool `yaml:"enable_dynamic_questions"`

	// MaxAttempts is the per-slot question budget before the machine abandons
	// the slot. 0 means 3.
	MaxAttempts int `yaml:"max_attempts"`

	// ConfidenceThreshold is the minimum entity confidence accepted into a
	// slot. 0 means 0.4.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// OrchestratorConfig configures DAG execution.
type OrchestratorConfig struct {
	// EnableParallelExecution runs same-level subtasks concurrently.
	EnableParallelExecution bool `yaml:"enable_parallel_execution"`

	// MaxParallelTasks bounds concurrent subtasks within a level. 0 means 4.
	MaxParallelTasks int `yaml:"max_parallel_tasks"`

	// EnableErrorRecovery turns the per-subtask retry policy on.
	EnableErrorRecovery bool `yaml:"enable_error_recovery"`

	// EnableRollbackOnFailure compensates completed subtasks after a critical
	// failure.
	EnableRollbackOnFailure bool `yaml:"enable_rollback_on_failure"`

	// TaskTimeoutSeconds bounds each subtask's action invocation. 0 means 30.
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`

	// MaxRetries is the per-subtask retry budget. 0 means 2.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelayMs is the base of the linear backoff (delay × attempt).
	// 0 means 500.
	RetryDelayMs int `yaml:"retry_delay_ms"`
}

// TaskTimeout returns the per-subtask bound as a duration.
func (o OrchestratorConfig) TaskTimeout() time.Duration {
	if o.TaskTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.TaskTimeoutSeconds) * time.Second
}

// RetryDelay returns the linear backoff base as a duration.
func (o OrchestratorConfig) RetryDelay() time.Duration {
	if o.RetryDelayMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(o.RetryDelayMs) * time.Millisecond
}

// ProgressConfig configures execution progress tracking.
type ProgressConfig struct {
	// EnableRealTimeTracking publishes per-subtask updates as they happen.
	EnableRealTimeTracking bool `yaml:"enable_real_time_tracking"`

	// UpdateIntervalMs throttles progress publication. 0 means 250.
	UpdateIntervalMs int `yaml:"update_interval_ms"`

	// MaxTrackingDurationMinutes is the age after which stale trackers are
	// cancelled by the sweep. 0 means 30.
	MaxTrackingDurationMinutes int `yaml:"max_tracking_duration_minutes"`
}

// MaxTrackingDuration returns the stale-tracker bound as a duration.
func (p ProgressConfig) MaxTrackingDuration() time.Duration {
	if p.MaxTrackingDurationMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.MaxTrackingDurationMinutes) * time.Minute
}
