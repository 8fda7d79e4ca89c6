package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cibfe/cibfe/internal/api"
	"github.com/cibfe/cibfe/internal/categorizer"
	"github.com/cibfe/cibfe/internal/config"
	"github.com/cibfe/cibfe/internal/embedding"
	"github.com/cibfe/cibfe/internal/extraction"
	"github.com/cibfe/cibfe/internal/inmem"
	"github.com/cibfe/cibfe/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	embedder, err := embedding.NewClient(config.EmbeddingProvider(), config.OpenAIAPIKey(), cfg.EmbeddingDimension)
	if err != nil {
		logger.Warn("embedding client initialization failed, ingesting without vectors", zap.Error(err))
		embedder = embedding.NewNoopClient()
	} else {
		logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))
	}

	extractor, err := extraction.NewClient(config.ExtractionProvider(), config.OpenAIAPIKey())
	if err != nil {
		logger.Warn("extraction client initialization failed, belief analysis disabled", zap.Error(err))
		extractor = nil
	} else {
		logger.Info("extraction client initialized", zap.String("provider", config.ExtractionProvider()))
	}

	deps := api.Deps{
		Config:      cfg,
		Logger:      logger,
		Categorizer: categorizer.New(),
		Embedder:    embedder,
		Extractor:   extractor,
	}

	if dbURL := config.DatabaseURL(); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		logger.Info("connected to database")

		caps, err := store.DetectCapabilities(ctx, pool)
		if err != nil {
			logger.Fatal("capability probe failed", zap.Error(err))
		}
		if err := store.EnsureSchema(ctx, pool, caps, cfg.EmbeddingDimension); err != nil {
			logger.Fatal("schema bootstrap failed", zap.Error(err))
		}

		strategy := store.NewDefaultStrategy(pool, cfg.Strategy)
		if err := strategy.Initialize(ctx); err != nil {
			logger.Fatal("strategy selection failed", zap.Error(err))
		}
		logger.Info("similarity strategy selected",
			zap.String("strategy", strategy.Name()),
			zap.Bool("vector", caps.Vector),
			zap.Bool("trigram", caps.Trigram))

		opts := store.Options{
			BatchSize:    cfg.BatchSize,
			MaxResults:   cfg.MaxSimilarityResults,
			MinThreshold: cfg.SimilarityThreshold,
			Dimension:    cfg.EmbeddingDimension,
		}
		memories := store.NewMemoryStore(pool, strategy, caps, opts)
		memories.SetEmbedder(embedder)
		deps.Memories = memories
		deps.Beliefs = store.NewBeliefStore(pool, caps, nil, nil)
		deps.Relationships = store.NewRelationshipStore(pool, nil, nil)
	} else {
		logger.Info("DATABASE_URL not set, running with the in-memory backend")
		memories := inmem.NewMemoryStore(inmem.Options{
			BatchSize:    cfg.BatchSize,
			MaxResults:   cfg.MaxSimilarityResults,
			MinThreshold: cfg.SimilarityThreshold,
			Dimension:    cfg.EmbeddingDimension,
		})
		memories.SetEmbedder(embedder)
		deps.Memories = memories
		deps.Beliefs = inmem.NewBeliefStore(nil, nil)
		deps.Relationships = inmem.NewRelationshipStore(nil, nil)
	}

	app := api.NewApp(deps)

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
