package config_test

import (
	"strings"
	"testing"

	"github.com/PuertOcho/puertocho-intent/internal/config"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should load with defaults: %v", err)
	}

	if cfg.Server.ListenAddr != ":8090" {
		t.Errorf("ListenAddr = %q, want :8090", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Vector.Backend != config.VectorMemory {
		t.Errorf("Vector.Backend = %q, want memory", cfg.Vector.Backend)
	}
	if cfg.RAG.TopK != 5 {
		t.Errorf("RAG.TopK = %d, want 5", cfg.RAG.TopK)
	}
	if cfg.RAG.MinSimilarity != 0.35 {
		t.Errorf("RAG.MinSimilarity = %v, want 0.35", cfg.RAG.MinSimilarity)
	}
	if sum := cfg.RAG.Confidence.Weights.Sum(); sum < 0.999 || sum > 1.001 {
		t.Errorf("default confidence weights sum to %v, want 1.0", sum)
	}
	if cfg.SlotFilling.MaxAttempts != 3 {
		t.Errorf("SlotFilling.MaxAttempts = %d, want 3", cfg.SlotFilling.MaxAttempts)
	}
	if cfg.Orchestrator.MaxParallelTasks != 4 {
		t.Errorf("Orchestrator.MaxParallelTasks = %d, want 4", cfg.Orchestrator.MaxParallelTasks)
	}
}

func TestLoadFromReader_FullDocument(t *testing.T) {
	t.Parallel()
	const doc = `
server:
  listen_addr: ":9000"
  log_level: debug
providers:
  llm:
    name: openai
    model: gpt-4o-mini
    timeout_seconds: 20
  llm_fallbacks:
    - name: ollama
      base_url: http://localhost:11434
      model: llama3
  embeddings:
    name: openai
    model: text-embedding-3-small
session:
  redis_addr: localhost:6379
  ttl_minutes: 45
vector:
  backend: postgres
  postgres_dsn: postgres://localhost/intents
  dimensions: 1536
moe:
  enabled: true
  parallel_voting: true
  max_debate_rounds: 2
  participants:
    - id: expert-general
      role: generalist
      weight: 0.4
    - id: expert-smarthome
      role: smarthome
      weight: 0.35
    - id: expert-critic
      role: critic
      weight: 0.25
rag:
  top_k: 7
  min_similarity: 0.4
  fallback:
    enable_gradual_degradation: true
    enable_heuristics: false
    keywords:
      alarma: programar_alarma
`
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Providers.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q", cfg.Providers.LLM.Model)
	}
	if got := cfg.Providers.LLM.Timeout().Seconds(); got != 20 {
		t.Errorf("LLM.Timeout = %vs, want 20s", got)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("LLMFallbacks = %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Session.TTL().Minutes() != 45 {
		t.Errorf("Session.TTL = %v", cfg.Session.TTL())
	}
	if cfg.Vector.Backend != config.VectorPostgres {
		t.Errorf("Vector.Backend = %q", cfg.Vector.Backend)
	}
	if len(cfg.MoE.Participants) != 3 {
		t.Fatalf("participants = %d, want 3", len(cfg.MoE.Participants))
	}
	if cfg.RAG.Fallback.LevelEnabled(2) {
		t.Error("level 2 should be disabled by enable_heuristics: false")
	}
	if !cfg.RAG.Fallback.LevelEnabled(1) || !cfg.RAG.Fallback.LevelEnabled(5) {
		t.Error("unset level flags should default to enabled")
	}
	if cfg.RAG.Fallback.Keywords["alarma"] != "programar_alarma" {
		t.Errorf("keyword mapping = %+v", cfg.RAG.Fallback.Keywords)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("misspelled key should be rejected")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "bad log level",
			doc:  "server:\n  log_level: verbose\n",
			want: "log_level",
		},
		{
			name: "postgres without dsn",
			doc:  "vector:\n  backend: postgres\n",
			want: "postgres_dsn",
		},
		{
			name: "bad vector backend",
			doc:  "vector:\n  backend: sqlite\n",
			want: "vector.backend",
		},
		{
			name: "weights not summing to one",
			doc:  "rag:\n  confidence:\n    weights:\n      llm_self: 0.5\n      temporal: 0.2\n",
			want: "sum to 1.0",
		},
		{
			name: "duplicate participant id",
			doc:  "moe:\n  participants:\n    - id: a\n      weight: 0.5\n    - id: a\n      weight: 0.5\n",
			want: "duplicate",
		},
		{
			name: "participant weight out of range",
			doc:  "moe:\n  participants:\n    - id: a\n      weight: 1.5\n",
			want: "weight",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.doc))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	const doc = "server:\n  log_level: loud\nvector:\n  backend: postgres\n"
	_, err := config.LoadFromReader(strings.NewReader(doc))
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") || !strings.Contains(msg, "postgres_dsn") {
		t.Errorf("joined error should report both failures, got %q", msg)
	}
}
