package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"proxie/pkg/agent"
	"proxie/pkg/agent/middleware/metrics"
	"proxie/pkg/config"
	"proxie/pkg/gateway"
	"proxie/pkg/logx"
	"proxie/pkg/marketplace"
	"proxie/pkg/memory"
	"proxie/pkg/orchestrator"
	"proxie/pkg/persistence"
	"proxie/pkg/session"
	"proxie/pkg/specialist"
	"proxie/pkg/suggest"
	"proxie/pkg/tools"
	"proxie/pkg/usage"
)

// app is the wired runtime shared by serve and chat.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	ops      *persistence.DatabaseOperations
	worker   *persistence.Worker
	registry *prometheus.Registry
	gateway  *gateway.Gateway
	cache    gateway.Cache
	ledger   usage.Ledger
	sessions session.Store
	market   *marketplace.InMemory
	tools    *tools.Registry
	orch     *orchestrator.Orchestrator
	logger   *logx.Logger
}

// loadConfig reads the config file, unlocks the secrets file when a password
// is available and applies the --mock flag.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if config.SecretsFileExists(opts.secretsDir) {
		password := os.Getenv(passwordEnv)
		if password == "" {
			logx.NewLogger("proxie").Warn("🔐 secrets file present but %s is unset; using the environment only", passwordEnv)
		} else if err := config.LoadSecrets(opts.secretsDir, password); err != nil {
			return nil, fmt.Errorf("failed to unlock secrets: %w", err)
		}
	}
	if opts.mock {
		cfg.LLM.Mock = true
	}
	return cfg, nil
}

// openDatabase opens the shared SQLite database at cfg.Database.Path.
func openDatabase(cfg *config.Config) (*sql.DB, *persistence.DatabaseOperations, error) {
	db, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, persistence.NewDatabaseOperations(db), nil
}

func newApp(cfg *config.Config) (*app, error) {
	logger := logx.NewLogger("proxie")
	db, ops, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, ops: ops, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var recorder metrics.Recorder = metrics.Nop()
	if cfg.LLM.MetricsEnabled {
		recorder = metrics.NewPrometheusRecorder(a.registry)
	}

	a.ledger = usage.NewSQLiteLedger(ops, usage.Limits{SessionUSD: cfg.LLM.SessionLimitUSD, DailyUSD: cfg.LLM.DailyLimitUSD})
	var cache gateway.Cache = gateway.NewSQLiteCache(ops)
	if cfg.LLM.CacheBackend == "memory" {
		cache = gateway.NewMemoryCache()
	}
	a.cache = cache
	a.gateway = gateway.New(gateway.Options{
		Clients:  agent.NewLLMClientFactory(cfg.LLM, recorder),
		Ledger:   a.ledger,
		Cache:    cache,
		Recorder: recorder,
		Config:   cfg.LLM,
	})

	a.sessions, err = session.NewStore(cfg.Sessions, ops)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	catalog, err := marketplace.DefaultCatalog()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load service catalog: %w", err)
	}
	a.market = marketplace.NewInMemory(catalog)
	if cfg.Server.DemoData {
		seedDemo(a.market)
	}

	registry, err := tools.NewDefaultRegistry(a.market, suggest.New())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	a.tools = registry
	specialists, err := specialist.NewDefaultRegistry()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load specialists: %w", err)
	}

	a.worker = persistence.NewWorker(ops, 0)
	mem := memory.NewService(memory.NewWorkerStore(ops, a.worker), a.market, memory.EmbedderFromConfig(cfg.Memory))

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Completer:   a.gateway,
		Sessions:    a.sessions,
		Tools:       registry,
		Specialists: specialists,
		Market:      a.market,
		Memory:      mem,
		Config:      cfg.Orchestrator,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build orchestrator: %w", err)
	}
	logger.Info("✅ Runtime ready (primary=%s, sessions=%s, db=%s)", a.gateway.PrimaryModel(), cfg.Sessions.Backend, cfg.Database.Path)
	return a, nil
}

// Close flushes pending writes and closes the database.
func (a *app) Close() {
	if a.worker != nil {
		a.worker.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database: %v", err)
		}
	}
}

// seedDemo registers a demo consumer and provider.
func seedDemo(m *marketplace.InMemory) {
	m.AddConsumer(marketplace.Consumer{
		ID:              "demo-consumer",
		Name:            "Jordan Demo",
		DefaultLocation: map[string]any{"city": "Brooklyn"},
	})
	m.AddProvider(marketplace.Provider{
		ID:       "demo-provider",
		Name:     "Riley's Studio",
		Status:   "active",
		Services: []marketplace.ProviderService{{Type: "haircut", BasePrice: 65}, {Type: "braids", BasePrice: 120}},
		Rating:   4.8,
	})
}
