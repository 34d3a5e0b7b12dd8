// The indexer pulls schema snapshots from the target database, archives
// them, and publishes new versions of the shared remote index. API
// processes adopt the archived snapshots instead of rebuilding themselves.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sqlpilot/sqlpilot/internal/config"
	"github.com/sqlpilot/sqlpilot/internal/embed"
	remoteindex "github.com/sqlpilot/sqlpilot/internal/index/remote"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/pipeline"
	"github.com/sqlpilot/sqlpilot/internal/schema"
	schemapostgres "github.com/sqlpilot/sqlpilot/internal/schema/postgres"
	"github.com/sqlpilot/sqlpilot/internal/storage"
	s3store "github.com/sqlpilot/sqlpilot/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("sqlpilot-indexer")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Index.Provider != "remote" {
		slog.Error("the indexer requires the remote index provider")
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

	var embedder embed.Embedder
	var closeEmbedder = func() {}
	switch cfg.Embedding.Provider {
	case "openai":
		embedder, err = embed.NewOpenAIEmbedder(embed.OpenAIConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.Timeout,
		})
	case "gemini":
		var gemini *embed.GeminiEmbedder
		gemini, err = embed.NewGeminiEmbedder(context.Background(), embed.GeminiConfig{
			APIKey: cfg.Embedding.APIKey,
			Model:  cfg.Embedding.Model,
		})
		if err == nil {
			embedder = gemini
			closeEmbedder = func() { _ = gemini.Close() }
		}
	default:
		logger.Error("unsupported embedding provider", slog.String("provider", cfg.Embedding.Provider))
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to initialize embedder", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeEmbedder()

	idx, err := remoteindex.New(remoteindex.Config{
		BaseURL: cfg.Index.RemoteURL,
		APIKey:  cfg.Index.RemoteAPIKey,
		Alias:   cfg.Index.Alias,
		Timeout: cfg.Embedding.Timeout,
	}, embedder)
	if err != nil {
		logger.Error("failed to initialize remote index", slog.Any("error", err))
		os.Exit(1)
	}

	var archive *storage.SnapshotArchive
	if cfg.ObjectStore.Enabled {
		store, err := s3store.New(context.Background(), s3store.Config{
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
		archive = &storage.SnapshotArchive{Store: store, Alias: cfg.Index.Alias}
	}

	var examples []schema.ExamplePair
	if cfg.Examples.SeedPath != "" {
		examples, err = schema.LoadExamples(cfg.Examples.SeedPath)
		if err != nil {
			logger.Error("failed to load seed examples", slog.Any("error", err))
			os.Exit(1)
		}
	}

	rebuilder := &pipeline.Rebuilder{
		Source:   schemapostgres.NewSource(targetDB),
		Examples: examples,
		Index:    idx,
		Archive:  archive,
		Logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("indexer started")
	if _, err := rebuilder.Rebuild(ctx); err != nil {
		logger.Error("index rebuild failed", slog.Any("error", err))
		if cfg.Index.RebuildInterval <= 0 {
			os.Exit(1)
		}
	}
	if cfg.Index.RebuildInterval <= 0 {
		logger.Info("indexer finished")
		return
	}

	ticker := time.NewTicker(cfg.Index.RebuildInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("indexer stopped")
			return
		case <-ticker.C:
			if _, err := rebuilder.Rebuild(ctx); err != nil {
				logger.Error("index rebuild failed", slog.Any("error", err))
			}
		}
	}
}
