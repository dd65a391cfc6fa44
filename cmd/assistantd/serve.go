package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/audit"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/auth"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/autonomy"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/background"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/cache"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/config"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/conversations"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/llm"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/metrics"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/orchestrator"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/ratelimit"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/server"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/internal/tools"
)

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closer, ok := store.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}()

	responseCache, err := buildCache(cfg, logger)
	if err != nil {
		return err
	}

	provider, defaultModel, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	if defaultModel != "" {
		cfg.Orchestrator.Model = defaultModel
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewWebsiteTool(&cfg.Tools.Website))

	var policy autonomy.PolicyService
	if cfg.Autonomy.PolicyURL != "" {
		policy = autonomy.NewPolicyClient(cfg.Autonomy.PolicyURL, cfg.Autonomy.Timeout)
	}
	gate := autonomy.NewGate(policy, cfg.Autonomy.Threshold, logger)

	var auditSink *audit.Sink
	var executorAudit tools.AuditSink
	if cfg.Audit.Enabled {
		auditSink, err = audit.NewSink(cfg.Audit, logger)
		if err != nil {
			return fmt.Errorf("audit sink: %w", err)
		}
		executorAudit = auditSink
	}

	executor := tools.NewExecutor(registry, gate, executorAudit, &cfg.Tools.Executor, logger)
	worker := background.NewWorker(cfg.Background, logger)

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	orch := orchestrator.New(provider, store, responseCache, registry, executor, worker, m, &cfg.Orchestrator, logger)

	authService := auth.NewService(cfg.Auth)
	limiter := ratelimit.NewLimiter(cfg.RateLimit)

	srv := server.New(orch, authService, limiter, promRegistry, server.Options{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, logger)

	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("assistant ready",
		"provider", provider.Name(),
		"model", cfg.Orchestrator.Model,
		"store", cfg.Database.Backend,
		"cache", cfg.Cache.Backend,
	)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-signalCtx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	worker.Shutdown(cfg.Background.DrainTimeout)
	if auditSink != nil {
		_ = auditSink.Close()
	}
	return nil
}

func runMigrate(ctx context.Context, configPath, direction string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Backend != "postgres" {
		return fmt.Errorf("migrations require the postgres backend, configured backend is %q", cfg.Database.Backend)
	}

	switch direction {
	case "up":
		applied, err := conversations.MigrateUp(ctx, cfg.Database.DSN)
		if err != nil {
			return err
		}
		for _, id := range applied {
			fmt.Printf("applied %s\n", id)
		}
		if len(applied) == 0 {
			fmt.Println("no pending migrations")
		}
		return nil
	case "down":
		db, err := openMigrationDB(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		migrator, err := conversations.NewMigrator(db)
		if err != nil {
			return err
		}
		rolled, err := migrator.Down(ctx, 1)
		if err != nil {
			return err
		}
		for _, id := range rolled {
			fmt.Printf("rolled back %s\n", id)
		}
		return nil
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
}

func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (conversations.Store, error) {
	switch cfg.Database.Backend {
	case "postgres":
		if _, err := conversations.MigrateUp(ctx, cfg.Database.DSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return conversations.NewPostgresStore(&conversations.PostgresConfig{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectTimeout:  10 * time.Second,
		})
	case "memory":
		logger.Warn("using in-memory conversation store, history is lost on restart")
		return conversations.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

func buildCache(cfg *config.Config, logger *slog.Logger) (*cache.ResponseCache, error) {
	var kv cache.KV
	switch cfg.Cache.Backend {
	case "off":
		return nil, nil
	case "sqlite":
		sqliteKV, err := cache.NewSQLiteKV(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite cache: %w", err)
		}
		kv = sqliteKV
	case "memory":
		kv = cache.NewMemoryKV(cfg.Cache.MaxSize)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	return cache.NewResponseCache(kv, cfg.Cache.TTL, logger), nil
}

func buildProvider(cfg *config.Config) (llm.Provider, string, error) {
	providerCfg, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]
	if !ok {
		return nil, "", fmt.Errorf("llm provider %q is not configured", cfg.LLM.DefaultProvider)
	}

	switch cfg.LLM.DefaultProvider {
	case "openai":
		var opts []llm.OpenAIOption
		if providerCfg.BaseURL != "" {
			opts = append(opts, llm.WithOpenAIBaseURL(providerCfg.BaseURL))
		}
		apiKey := providerCfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return llm.NewOpenAIProvider(apiKey, opts...), providerCfg.DefaultModel, nil
	case "anthropic":
		var opts []llm.AnthropicOption
		if providerCfg.BaseURL != "" {
			opts = append(opts, llm.WithAnthropicBaseURL(providerCfg.BaseURL))
		}
		apiKey := providerCfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return llm.NewAnthropicProvider(apiKey, opts...), providerCfg.DefaultModel, nil
	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", cfg.LLM.DefaultProvider)
	}
}

func openMigrationDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
