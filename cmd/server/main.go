package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opsforge/sentinel-core/internal/api"
	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/correlate"
	"github.com/opsforge/sentinel-core/internal/detect"
	"github.com/opsforge/sentinel-core/internal/inference"
	"github.com/opsforge/sentinel-core/internal/knowledge"
	"github.com/opsforge/sentinel-core/internal/llm"
	"github.com/opsforge/sentinel-core/internal/notify"
	"github.com/opsforge/sentinel-core/internal/pipeline"
	"github.com/opsforge/sentinel-core/internal/rules"
	"github.com/opsforge/sentinel-core/internal/search"
	"github.com/opsforge/sentinel-core/internal/sop"
	"github.com/opsforge/sentinel-core/internal/storage"
	"github.com/opsforge/sentinel-core/internal/tracing"
	"github.com/opsforge/sentinel-core/pkg/cache"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

const version = "v0.3.1"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logg := logger.New(cfg.LogLevel)
	logg.Info("Starting sentinel-core", "version", version, "environment", cfg.Environment)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logg.Info("Shutdown signal received")
		cancel()
	}()

	// Cache: Valkey when configured, in-process fallback otherwise
	cacheStore := buildCache(cfg, logg)

	// Durable object store for incidents, patterns, approvals, snapshots
	objects, err := storage.NewFSStore(cfg.DataDir, logg)
	if err != nil {
		logg.Fatal("Failed to open data directory", "dir", cfg.DataDir, "error", err)
	}

	// Model providers (embeddings, completions, deep retrieval)
	providers, err := llm.NewProviders(ctx, cfg.Models, cfg.Search.KnowledgeBaseID, logg)
	if err != nil {
		logg.Fatal("Failed to initialize model providers", "provider", cfg.Models.Provider, "error", err)
	}

	// Knowledge store over the object store and vector index
	patterns, err := knowledge.NewStore(knowledge.StoreConfig{
		Objects:       objects,
		Index:         buildVectorIndex(cfg, logg),
		Embedder:      providers.Embedder,
		Knowledge:     cfg.Knowledge,
		EmbedTimeout:  cfg.Search.EmbedTimeout(),
		VectorTimeout: cfg.Search.VectorTimeout(),
	}, logg)
	if err != nil {
		logg.Fatal("Failed to initialize knowledge store", "error", err)
	}
	if err := patterns.Load(ctx); err != nil {
		logg.Fatal("Failed to load stored patterns", "error", err)
	}
	total, indexed := patterns.Stats()
	logg.Info("Knowledge store ready", "patterns", total, "indexed", indexed)

	// Layered pattern search
	searcher := search.NewService(patterns, providers.Retriever, cfg.Search, logg)

	// Detection rules, hot-reloadable
	ruleRegistry, err := rules.NewRegistry(cfg.Rules.Path, logg)
	if err != nil {
		logg.Fatal("Failed to load detection rules", "path", cfg.Rules.Path, "error", err)
	}
	if cfg.Rules.Watch {
		go func() {
			if err := ruleRegistry.Watch(ctx); err != nil {
				logg.Error("Rules watcher stopped", "error", err)
			}
		}()
	}

	// Signal collectors and the correlation engine
	collectors, err := buildCollectors(cfg.Correlate.FixturesDir)
	if err != nil {
		logg.Fatal("Failed to load replay fixtures", "dir", cfg.Correlate.FixturesDir, "error", err)
	}
	if len(collectors) == 0 {
		logg.Warn("No collectors configured; detections will fail until fixtures exist",
			"dir", cfg.Correlate.FixturesDir)
	}
	correlator := correlate.NewEngine(collectors, cfg.Correlate, logg)

	// Detect agent with optional snapshot persistence and cache mirror
	var snapshots storage.ObjectStore
	if cfg.Detect.PersistSnapshots {
		snapshots = objects
	}
	var mirror cache.Store
	if cfg.Detect.MirrorToCache {
		mirror = cacheStore
	}
	agent := detect.NewAgent(correlator, ruleRegistry, patterns, snapshots, mirror, cfg.Detect, logg)

	// RCA inference: rules first, model cascade behind them
	rcaEngine := inference.NewEngine(ruleRegistry, searcher, providers.Completer, cfg.Models, logg)

	// Runbook catalog and the safety stack
	actionRegistry := sop.NewActionRegistry()
	if err := sop.RegisterBuiltins(actionRegistry, logg); err != nil {
		logg.Fatal("Failed to register runbook actions", "error", err)
	}
	catalog, err := sop.LoadCatalog(cfg.SOPs.Path, logg)
	if err != nil {
		logg.Fatal("Failed to load SOP catalog", "path", cfg.SOPs.Path, "error", err)
	}
	cooldown := sop.NewCooldownGuard(cfg.Safety)
	gatekeeper := sop.NewGatekeeper(cfg.Safety, actionRegistry, cooldown, logg)
	approvals := sop.NewApprovalManager(cfg.Safety, objects, logg)
	executor := sop.NewExecutor(actionRegistry, logg)

	// Operator notifications
	var notifier notify.Notifier = notify.NewNoop(logg)
	if cfg.Integrations.Slack.Enabled || cfg.Integrations.MSTeams.Enabled || cfg.Integrations.Email.Enabled {
		notifier = notify.NewService(cfg.Integrations, logg)
	}

	// Distributed tracing
	if cfg.Monitoring.TracingEnabled {
		tp, err := tracing.NewTracerProvider("sentinel-core", version, cfg.Monitoring.OTLPEndpoint)
		if err != nil {
			logg.Warn("Tracing disabled; OTLP exporter failed", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelShutdown()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logg.Error("Tracer shutdown failed", "error", err)
				}
			}()
			logg.Info("Tracing enabled", "endpoint", cfg.Monitoring.OTLPEndpoint)
		}
	}

	// The pipeline orchestrator ties it all together
	orch := pipeline.New(pipeline.Deps{
		Detector:  agent,
		Analyser:  rcaEngine,
		Catalog:   catalog,
		Gate:      gatekeeper,
		Cooldown:  cooldown,
		Approvals: approvals,
		Executor:  executor,
		Notifier:  notifier,
		Learner:   pipeline.NewLearner(patterns, logg),
		Objects:   objects,
		Pipeline:  cfg.Pipeline,
		Safety:    cfg.Safety,
		Logger:    logg,
	})

	// Reload rules and runbooks on SIGHUP or config file changes
	watcher := config.NewWatcher("./configs/config.yaml", cfg, logg)
	watcher.Subscribe(func(_ *config.Config) {
		_ = ruleRegistry.Reload()
		_ = catalog.Reload()
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logg.Error("Configuration watcher failed", "error", err)
		}
	}()

	// Initialize API server
	apiServer := api.NewServer(cfg, logg, cacheStore, orch, agent, searcher, patterns)

	// Start server
	if err := apiServer.Start(ctx); err != nil {
		logg.Fatal("Server failed", "error", err)
	}

	logg.Info("sentinel-core shutdown complete")
}

// buildCache prefers the configured Valkey node and falls back to the
// in-process store so a cache outage never blocks startup.
func buildCache(cfg *config.Config, log logger.Logger) cache.Store {
	if !cfg.Cache.Enabled {
		return cache.NewMemoryStore(log)
	}
	store, err := cache.NewValkeyStore(cfg.Cache.Node, cfg.Cache.DB, cfg.Cache.Password,
		time.Duration(cfg.Cache.TTL)*time.Second)
	if err != nil {
		log.Warn("Valkey unavailable; using in-process cache", "node", cfg.Cache.Node, "error", err)
		return cache.NewMemoryStore(log)
	}
	log.Info("Valkey cache connected", "node", cfg.Cache.Node)
	return store
}

// buildVectorIndex returns the Weaviate index when enabled, otherwise
// the in-process one. Vector search silently degrades either way.
func buildVectorIndex(cfg *config.Config, log logger.Logger) knowledge.VectorIndex {
	if !cfg.Weaviate.Enabled {
		return knowledge.NewMemIndex()
	}
	idx, err := knowledge.NewWeaviateIndex(cfg.Weaviate, log)
	if err != nil {
		log.Warn("Weaviate unavailable; using in-process vector index",
			"host", cfg.Weaviate.Host, "error", err)
		return knowledge.NewMemIndex()
	}
	log.Info("Weaviate vector index connected", "host", cfg.Weaviate.Host, "class", cfg.Weaviate.Class)
	return idx
}

// buildCollectors loads one replay collector per fixture file. A missing
// fixtures directory is not an error; live deployments register real
// collectors instead.
func buildCollectors(dir string) ([]correlate.Collector, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var collectors []correlate.Collector
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		c, err := correlate.NewReplayCollector(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		collectors = append(collectors, c)
	}
	return collectors, nil
}
