package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sqlpilot/sqlpilot/internal/api"
	"github.com/sqlpilot/sqlpilot/internal/auth"
	"github.com/sqlpilot/sqlpilot/internal/config"
	"github.com/sqlpilot/sqlpilot/internal/embed"
	"github.com/sqlpilot/sqlpilot/internal/execute"
	"github.com/sqlpilot/sqlpilot/internal/history"
	"github.com/sqlpilot/sqlpilot/internal/index"
	memoryindex "github.com/sqlpilot/sqlpilot/internal/index/memory"
	remoteindex "github.com/sqlpilot/sqlpilot/internal/index/remote"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/pipeline"
	"github.com/sqlpilot/sqlpilot/internal/prompt"
	"github.com/sqlpilot/sqlpilot/internal/retrieve"
	"github.com/sqlpilot/sqlpilot/internal/safety"
	"github.com/sqlpilot/sqlpilot/internal/schema"
	schemapostgres "github.com/sqlpilot/sqlpilot/internal/schema/postgres"
	"github.com/sqlpilot/sqlpilot/internal/storage"
	s3store "github.com/sqlpilot/sqlpilot/internal/storage/s3"
	"github.com/sqlpilot/sqlpilot/internal/synth"
	"github.com/sqlpilot/sqlpilot/internal/translate"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sqlpilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	targetDB, err := schemapostgres.Open(context.Background(), schemapostgres.DBConfig{
		DSN:             cfg.TargetDB.DSN,
		MaxOpenConns:    cfg.TargetDB.MaxOpenConns,
		MaxIdleConns:    cfg.TargetDB.MaxIdleConns,
		ConnMaxIdleTime: cfg.TargetDB.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.TargetDB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open target db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = targetDB.Close() }()
	source := schemapostgres.NewSource(targetDB)

	embedder, closeEmbedder, err := buildEmbedder(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize embedder", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeEmbedder()

	var archive *storage.SnapshotArchive
	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archive = &storage.SnapshotArchive{Store: objectStore, Alias: cfg.Index.Alias}
	}

	idx, err := buildIndex(cfg, embedder, archive, logger)
	if err != nil {
		logger.Error("failed to initialize schema index", slog.Any("error", err))
		os.Exit(1)
	}

	synthesizer, closeSynthesizer, err := buildSynthesizer(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize synthesizer", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeSynthesizer()

	var translator translate.Translator = translate.Noop{}
	if cfg.Translation.Enabled {
		translator, err = translate.NewAzureTranslator(translate.AzureConfig{
			Endpoint: cfg.Translation.Endpoint,
			APIKey:   cfg.Translation.APIKey,
			Region:   cfg.Translation.Region,
			Timeout:  cfg.Translation.Timeout,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize translator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var historyStore history.Store = history.Noop{}
	if cfg.History.Path != "" {
		sqliteStore, err := history.OpenSQLite(cfg.History.Path)
		if err != nil {
			logger.Error("failed to open history store", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = sqliteStore.Close() }()
		historyStore = sqliteStore
	}

	var examples []schema.ExamplePair
	if cfg.Examples.SeedPath != "" {
		examples, err = schema.LoadExamples(cfg.Examples.SeedPath)
		if err != nil {
			logger.Error("failed to load seed examples", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("loaded seed examples", slog.Int("count", len(examples)))
	}

	service := &pipeline.Service{
		Translator: translator,
		Retriever: &retrieve.Retriever{
			Embedder:    embedder,
			Index:       idx,
			FragmentK:   cfg.Index.FragmentK,
			ExampleK:    cfg.Index.ExampleK,
			TokenBudget: cfg.Index.TokenBudget,
		},
		Composer: &prompt.Composer{
			TokenBudget: cfg.Index.TokenBudget,
			MaxRows:     cfg.Execution.MaxRows,
		},
		Synthesizer:  synthesizer,
		Validator:    &safety.Validator{Catalog: idx},
		Executor:     execute.NewExecutor(targetDB),
		History:      historyStore,
		HistoryTurns: cfg.History.Turns,
		MaxRows:      cfg.Execution.MaxRows,
		ExecTimeout:  cfg.Execution.Timeout,
		Logger:       logger,
	}
	rebuilder := &pipeline.Rebuilder{
		Source:   source,
		Examples: examples,
		Index:    idx,
		Archive:  archive,
		Logger:   logger,
	}

	deps := api.Dependencies{
		Logger:            logger,
		Pipeline:          service,
		Rebuilder:         rebuilder,
		Catalog:           idx,
		History:           historyStore,
		DependencyTimeout: time.Second,
		Readiness: api.CombineReadinessChecks(
			api.CheckTargetDBDSN(cfg),
			func(ctx context.Context) error { return targetDB.PingContext(ctx) },
			api.CheckActiveIndex(idx),
		),
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Build an initial index version so the service is answerable without a
	// manual rebuild call. Failure is logged, not fatal; readiness stays red
	// until the first successful rebuild.
	if _, _, ok := idx.Active(); !ok {
		if _, err := rebuilder.Rebuild(ctx); err != nil {
			logger.Warn("initial index rebuild failed", slog.Any("error", err))
		}
	}

	if cfg.Index.RebuildInterval > 0 {
		go runPeriodicRebuild(ctx, rebuilder, cfg.Index.RebuildInterval, logger)
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func buildEmbedder(ctx context.Context, cfg config.Config) (embed.Embedder, func(), error) {
	switch cfg.Embedding.Provider {
	case "openai":
		embedder, err := embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return embedder, func() {}, nil
	case "gemini":
		embedder, err := embed.NewGeminiEmbedder(ctx, embed.GeminiConfig{
			APIKey: cfg.Embedding.APIKey,
			Model:  cfg.Embedding.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		return embedder, func() { _ = embedder.Close() }, nil
	default:
		return nil, nil, errors.New("unsupported embedding provider: " + cfg.Embedding.Provider)
	}
}

func buildSynthesizer(ctx context.Context, cfg config.Config) (synth.Synthesizer, func(), error) {
	switch cfg.Synthesis.Provider {
	case "openai":
		synthesizer, err := synth.NewOpenAISynthesizer(synth.OpenAIConfig{
			BaseURL:     cfg.Synthesis.BaseURL,
			APIKey:      cfg.Synthesis.APIKey,
			Model:       cfg.Synthesis.Model,
			Temperature: cfg.Synthesis.Temperature,
			Timeout:     cfg.Synthesis.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return synthesizer, func() {}, nil
	case "gemini":
		synthesizer, err := synth.NewGeminiSynthesizer(ctx, synth.GeminiConfig{
			APIKey:      cfg.Synthesis.APIKey,
			Model:       cfg.Synthesis.Model,
			Temperature: cfg.Synthesis.Temperature,
		})
		if err != nil {
			return nil, nil, err
		}
		return synthesizer, func() { _ = synthesizer.Close() }, nil
	default:
		return nil, nil, errors.New("unsupported synthesis provider: " + cfg.Synthesis.Provider)
	}
}

// buildIndex constructs the configured index backend. A remote index adopts
// the latest archived snapshot when one exists, so this process can search a
// version published by the indexer without rebuilding it.
func buildIndex(cfg config.Config, embedder embed.Embedder, archive *storage.SnapshotArchive, logger *slog.Logger) (index.Index, error) {
	switch cfg.Index.Provider {
	case "memory":
		return memoryindex.New(embedder), nil
	case "remote":
		remote, err := remoteindex.New(remoteindex.Config{
			BaseURL: cfg.Index.RemoteURL,
			APIKey:  cfg.Index.RemoteAPIKey,
			Alias:   cfg.Index.Alias,
			Timeout: cfg.Embedding.Timeout,
		}, embedder)
		if err != nil {
			return nil, err
		}
		if archive != nil {
			adoptLatestSnapshot(remote, archive, logger)
		}
		return remote, nil
	default:
		return nil, errors.New("unsupported index provider: " + cfg.Index.Provider)
	}
}

func adoptLatestSnapshot(remote *remoteindex.Index, archive *storage.SnapshotArchive, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := archive.LoadLatest(ctx)
	if err != nil {
		logger.Warn("no archived snapshot to adopt", slog.Any("error", err))
		return
	}
	remote.Adopt(index.Version{
		ID:        snap.Version,
		CreatedAt: snap.CreatedAt,
		Fragments: len(snap.Fragments),
		Examples:  len(snap.Examples),
	}, snap)
	logger.Info("adopted archived schema snapshot", slog.String("version", snap.Version))
}

func runPeriodicRebuild(ctx context.Context, rebuilder *pipeline.Rebuilder, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rebuilder.Rebuild(ctx); err != nil {
				logger.Error("periodic index rebuild failed", slog.Any("error", err))
			}
		}
	}
}
