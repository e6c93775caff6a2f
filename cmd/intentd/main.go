// Command intentd is the main entry point for the puertocho-intent server:
// it wires providers, stores, and the understanding pipeline, then serves
// the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/PuertOcho/puertocho-intent/internal/app"
	"github.com/PuertOcho/puertocho-intent/internal/classify"
	"github.com/PuertOcho/puertocho-intent/internal/config"
	"github.com/PuertOcho/puertocho-intent/internal/decompose"
	"github.com/PuertOcho/puertocho-intent/internal/entity"
	"github.com/PuertOcho/puertocho-intent/internal/intent"
	"github.com/PuertOcho/puertocho-intent/internal/moe"
	"github.com/PuertOcho/puertocho-intent/internal/observe"
	"github.com/PuertOcho/puertocho-intent/internal/orchestrate"
	"github.com/PuertOcho/puertocho-intent/internal/plan"
	"github.com/PuertOcho/puertocho-intent/internal/resilience"
	"github.com/PuertOcho/puertocho-intent/internal/session"
	"github.com/PuertOcho/puertocho-intent/internal/session/memkv"
	"github.com/PuertOcho/puertocho-intent/internal/session/rediskv"
	"github.com/PuertOcho/puertocho-intent/internal/slots"
	"github.com/PuertOcho/puertocho-intent/internal/tools"
	"github.com/PuertOcho/puertocho-intent/internal/vector"
	"github.com/PuertOcho/puertocho-intent/internal/vector/memstore"
	pgstore "github.com/PuertOcho/puertocho-intent/internal/vector/postgres"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/embeddings"
	oaembed "github.com/PuertOcho/puertocho-intent/pkg/provider/embeddings/openai"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm"
	"github.com/PuertOcho/puertocho-intent/pkg/provider/llm/anyllm"
	oaillm "github.com/PuertOcho/puertocho-intent/pkg/provider/llm/openai"
	"github.com/PuertOcho/puertocho-intent/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "intentd: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "intentd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("intentd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "puertocho-intent"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// LLM and embeddings providers.
	llmProvider, err := buildLLMProvider(cfg.Providers)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	embedder, err := buildEmbeddingsProvider(cfg.Providers.Embeddings)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}

	// Session store.
	var kv session.KV
	var redisClose func() error
	if cfg.Session.RedisAddr != "" {
		rkv, err := rediskv.New(ctx, rediskv.Config{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "err", err)
			return 1
		}
		kv, redisClose = rkv, rkv.Close
		slog.Info("session store backed by redis", "addr", cfg.Session.RedisAddr)
	} else {
		kv = memkv.New()
		slog.Info("session store backed by process memory")
	}
	sessions, err := session.NewStore(kv, session.NewLLMSummariser(llmProvider), session.Options{
		TTL:                cfg.Session.TTL(),
		CacheSize:          cfg.Session.CacheSize,
		CacheStaleness:     cfg.Session.CacheStaleness(),
		CompressThreshold:  cfg.Session.CompressThresholdBytes,
		MaxContextVersions: cfg.Session.MaxContextVersions,
		CompactionWindow:   cfg.Session.CompactionWindow,
	})
	if err != nil {
		slog.Error("failed to build session store", "err", err)
		return 1
	}
	go sessions.RunCleanup(ctx, cfg.Session.CleanupInterval())

	// Tool action registry.
	invoker := tools.NewHTTPInvoker(
		tools.WithEndpoints(cfg.Tools.Endpoints),
		tools.WithTimeout(cfg.Tools.Timeout()),
	)
	registry := tools.NewRegistry(invoker)
	if err := registry.RegisterAll(tools.BuiltinActions()); err != nil {
		slog.Error("failed to register tool actions", "err", err)
		return 1
	}

	// Intent catalogue, hot-reloaded when a file path is configured.
	var intents *intent.Registry
	if cfg.Intents.CataloguePath != "" {
		intents, err = intent.NewRegistry(cfg.Intents.CataloguePath,
			intent.WithReloadInterval(cfg.Intents.ReloadInterval()),
			intent.WithActionCheck(registry.Has),
		)
		if err != nil {
			slog.Error("failed to load intent catalogue", "path", cfg.Intents.CataloguePath, "err", err)
			return 1
		}
		slog.Info("intent catalogue loaded", "path", cfg.Intents.CataloguePath, "intents", intents.Snapshot().Len())
	} else {
		intents = intent.NewStaticRegistry(intent.DefaultCatalogue())
		slog.Info("using the built-in intent catalogue", "intents", intents.Snapshot().Len())
	}
	defer intents.Stop()

	// Vector store with the intent example corpus.
	var store vector.Store
	var pgClose func()
	switch cfg.Vector.Backend {
	case config.VectorPostgres:
		pg, err := pgstore.NewStore(ctx, cfg.Vector.PostgresDSN, cfg.Vector.Dimensions)
		if err != nil {
			slog.Error("failed to open postgres vector store", "err", err)
			return 1
		}
		store, pgClose = pg, pg.Close
	default:
		mem, err := memstore.New(cfg.Vector.Collection, cfg.Vector.Dimensions)
		if err != nil {
			slog.Error("failed to create in-memory vector store", "err", err)
			return 1
		}
		store = mem
	}
	if err := seedCorpus(ctx, store, embedder, intents.Snapshot()); err != nil {
		slog.Error("failed to seed the example corpus", "err", err)
		return 1
	}

	// Classification stack.
	classifier := classify.NewClassifier(embedder, store, llmProvider, intents, cfg.RAG,
		classify.WithFallback(classify.NewFallback(cfg.RAG)),
		classify.WithMetrics(metrics),
	)
	var engine *moe.Engine
	if cfg.MoE.Enabled {
		participants, err := buildParticipants(cfg, llmProvider)
		if err != nil {
			slog.Error("failed to build voting participants", "err", err)
			return 1
		}
		engine = moe.NewEngine(participants, llmProvider, cfg.MoE, moe.WithEngineMetrics(metrics))
		slog.Info("expert voting enabled", "participants", len(participants))
	}

	// Understanding and execution stages.
	recognizer := entity.NewRecognizer([]entity.Extractor{
		entity.NewPatternExtractor(),
		entity.NewContextExtractor(),
		entity.NewLLMExtractor(llmProvider),
	})
	decomposer := decompose.NewDecomposer(llmProvider, registry,
		decompose.WithExtractFunc(func(ctx context.Context, fragment string) ([]types.Entity, error) {
			return recognizer.Recognize(ctx, entity.Request{Utterance: fragment})
		}),
	)
	tracker := orchestrate.NewProgressTracker(registry, cfg.Progress)
	orchestrator := orchestrate.NewOrchestrator(registry, tracker, cfg.Orchestrator,
		orchestrate.WithMetrics(metrics))
	go sweepTrackers(ctx, tracker)

	pipeline, err := app.NewPipeline(app.Deps{
		Sessions:     sessions,
		Intents:      intents,
		Classifier:   classifier,
		MoE:          engine,
		Recognizer:   recognizer,
		Slots:        slots.NewMachine(llmProvider, cfg.SlotFilling),
		Decomposer:   decomposer,
		Resolver:     plan.NewResolver(registry),
		Orchestrator: orchestrator,
		Tracker:      tracker,
	})
	if err != nil {
		slog.Error("failed to assemble the pipeline", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	server := app.NewServer(pipeline, cfg.Server.ListenAddr)
	slog.Info("server ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if pgClose != nil {
		pgClose()
	}
	if redisClose != nil {
		if err := redisClose(); err != nil {
			slog.Warn("redis close error", "err", err)
		}
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// newLLMBackend constructs one completion backend from a provider entry and
// wraps it with retries. "openai" uses the native client; everything else
// goes through the any-llm multiplexer.
func newLLMBackend(entry config.ProviderEntry) (llm.Provider, error) {
	var backend llm.Provider
	var err error

	switch entry.Name {
	case "openai":
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		opts = append(opts, oaillm.WithTimeout(entry.Timeout()))
		backend, err = oaillm.New(entry.APIKey, entry.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		backend, err = anyllm.New(entry.Name, entry.Model, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}

	return llm.WithRetry(backend, llm.RetryConfig{
		MaxRetries: entry.MaxRetries,
		Timeout:    entry.Timeout(),
	}), nil
}

// buildLLMProvider builds the primary completion backend and chains the
// configured fallbacks behind it with per-backend circuit breakers.
func buildLLMProvider(cfg config.ProvidersConfig) (llm.Provider, error) {
	primary, err := newLLMBackend(cfg.LLM)
	if err != nil {
		return nil, err
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Name, "model", cfg.LLM.Model)
	if len(cfg.LLMFallbacks) == 0 {
		return primary, nil
	}

	group := resilience.NewLLMFallback(primary, cfg.LLM.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.LLMFallbacks {
		fb, err := newLLMBackend(entry)
		if err != nil {
			return nil, err
		}
		group.AddFallback(entry.Name, fb)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
	}
	return group, nil
}

func buildEmbeddingsProvider(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "openai", "":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		opts = append(opts, oaembed.WithTimeout(entry.Timeout()))
		p, err := oaembed.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider: %w", err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", "openai", "model", entry.Model)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

// buildParticipants resolves the configured voting experts. A participant
// without an explicit provider votes with the primary backend; a named
// provider must match the primary or one of the fallback entries so its
// credentials can be reused.
func buildParticipants(cfg *config.Config, primary llm.Provider) ([]moe.Participant, error) {
	pcs := cfg.MoE.Participants
	if len(pcs) == 0 {
		pcs = defaultParticipants
	}

	named := map[string]config.ProviderEntry{cfg.Providers.LLM.Name: cfg.Providers.LLM}
	for _, entry := range cfg.Providers.LLMFallbacks {
		named[entry.Name] = entry
	}

	participants := make([]moe.Participant, 0, len(pcs))
	for _, pc := range pcs {
		provider := primary
		if pc.Provider != "" {
			entry, ok := named[pc.Provider]
			if !ok {
				return nil, fmt.Errorf("participant %q references unknown provider %q", pc.ID, pc.Provider)
			}
			if pc.Model != "" {
				entry.Model = pc.Model
			}
			p, err := newLLMBackend(entry)
			if err != nil {
				return nil, err
			}
			provider = p
		}
		participants = append(participants, moe.Participant{
			ID:       pc.ID,
			Role:     pc.Role,
			Weight:   pc.Weight,
			Provider: provider,
		})
	}
	return participants, nil
}

// defaultParticipants are the standard three voting roles used when the
// configuration enables voting without naming experts.
var defaultParticipants = []config.ParticipantConfig{
	{ID: "expert-general", Role: "general", Weight: 1.0},
	{ID: "expert-domotica", Role: "domótica", Weight: 1.0},
	{ID: "expert-critico", Role: "crítico", Weight: 0.8},
}

// ── Background maintenance ────────────────────────────────────────────────────

// seedCorpus embeds the catalogue examples into an empty store. A non-empty
// store (a persistent postgres corpus) is left as is.
func seedCorpus(ctx context.Context, store vector.Store, embedder embeddings.Provider, cat *intent.Catalogue) error {
	count, err := store.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Info("example corpus already present", "documents", count)
		return nil
	}
	if err := vector.SeedCorpus(ctx, store, embedder, cat.Examples()); err != nil {
		return err
	}
	count, err = store.Count(ctx)
	if err != nil {
		return err
	}
	slog.Info("example corpus seeded", "documents", count)
	return nil
}

// sweepTrackers periodically cancels progress trackers that outlived the
// configured tracking window.
func sweepTrackers(ctx context.Context, tracker *orchestrate.ProgressTracker) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if swept := tracker.Sweep(now); len(swept) > 0 {
				slog.Info("swept expired progress trackers", "count", len(swept))
			}
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════════╗")
	fmt.Println("║      puertocho-intent startup summary      ║")
	fmt.Println("╠════════════════════════════════════════════╣")
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	printRow("Fallbacks", fmt.Sprintf("%d", len(cfg.Providers.LLMFallbacks)))
	printRow("Embeddings", providerLabel(cfg.Providers.Embeddings))
	printRow("Vector store", string(cfg.Vector.Backend))
	printRow("Sessions", sessionLabel(cfg.Session))
	printRow("Expert voting", enabledLabel(cfg.MoE.Enabled))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚════════════════════════════════════════════╝")
}

func providerLabel(entry config.ProviderEntry) string {
	if entry.Name == "" {
		return "(not configured)"
	}
	if entry.Model == "" {
		return entry.Name
	}
	return entry.Name + " / " + entry.Model
}

func sessionLabel(cfg config.SessionConfig) string {
	if cfg.RedisAddr != "" {
		return "redis"
	}
	return "in-memory"
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func printRow(label, value string) {
	if len([]rune(value)) > 26 {
		value = string([]rune(value)[:25]) + "…"
	}
	fmt.Printf("║  %-13s : %-26s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
