package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/time/rate"

	"github.com/groundchat/groundchat/db"
	"github.com/groundchat/groundchat/internal/chat"
	"github.com/groundchat/groundchat/internal/config"
	"github.com/groundchat/groundchat/internal/embedding"
	"github.com/groundchat/groundchat/internal/observability"
	"github.com/groundchat/groundchat/internal/rag"
	"github.com/groundchat/groundchat/internal/session"
	"github.com/groundchat/groundchat/internal/vectorstore"
	chromemstore "github.com/groundchat/groundchat/internal/vectorstore/chromem"
	pgstore "github.com/groundchat/groundchat/internal/vectorstore/pgvector"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be registered before Genkit initialization so the
	// TracerProvider is ready.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g
	logger.Info("initialized Genkit", "model", cfg.ModelName)

	a.Embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	gateway, err := embedding.New(a.Embedder, embedding.Config{
		Dimension: cfg.EmbedderDimension,
		Timeout:   cfg.UpstreamTimeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding gateway: %w", err)
	}
	a.Gateway = gateway

	store, err := provideVectorStore(ctx, cfg, a, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store

	indexer, err := rag.NewIndexer(store, gateway, rag.SplitConfig{
		Size:    cfg.ChunkSize,
		Overlap: cfg.ChunkOverlap,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating indexer: %w", err)
	}
	a.Indexer = indexer

	retriever, err := rag.NewRetriever(store, gateway, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	a.Retriever = retriever

	a.Sessions = session.NewStore()

	engine, err := provideEngine(cfg, g, retriever, a.Sessions, logger)
	if err != nil {
		return nil, err
	}
	a.Engine = engine

	return a, nil
}

// provideOtelShutdown sets up OTLP tracing when enabled.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.Telemetry.Enabled {
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Telemetry.Environment,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		logger.Warn("setting up tracing", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideVectorStore creates the configured vector store backend. For the
// pgvector backend it runs migrations and owns pool creation; the pool is
// stored on the App for Close.
func provideVectorStore(ctx context.Context, cfg *config.Config, a *App, logger *slog.Logger) (vectorstore.Store, error) {
	switch cfg.Backend {
	case config.BackendPgvector:
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}

		pool, err := pgstore.NewPool(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return nil, fmt.Errorf("creating connection pool: %w", err)
		}
		a.DBPool = pool

		store, err := pgstore.New(ctx, pool, cfg.EmbedderDimension, logger)
		if err != nil {
			return nil, fmt.Errorf("creating pgvector store: %w", err)
		}
		logger.Info("using pgvector backend", "host", cfg.PostgresHost, "db", cfg.PostgresDBName)
		return store, nil

	case config.BackendChromem:
		store, err := chromemstore.New(cfg.ChromemPath, cfg.EmbedderDimension, logger)
		if err != nil {
			return nil, fmt.Errorf("creating chromem store: %w", err)
		}
		if cfg.ChromemPath == "" {
			logger.Info("using in-memory chromem backend")
		} else {
			logger.Info("using persistent chromem backend", "path", cfg.ChromemPath)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.Backend)
	}
}

// provideEngine wires the query pipeline. Rewriter and synthesizer share one
// rate limiter so total model throughput stays bounded.
func provideEngine(cfg *config.Config, g *genkit.Genkit, retriever *rag.Retriever, sessions *session.Store, logger *slog.Logger) (*chat.Engine, error) {
	limiter := rate.NewLimiter(10, 30)
	retry := chat.DefaultRetryConfig()
	retry.CallTimeout = cfg.UpstreamTimeout()
	modelName := cfg.FullModelName()

	rewriter, err := chat.NewRewriter(g, modelName, retry, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("creating rewriter: %w", err)
	}
	synthesizer, err := chat.NewSynthesizer(g, modelName, retry, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("creating synthesizer: %w", err)
	}

	engine, err := chat.NewEngine(rewriter, synthesizer, retriever, sessions, cfg.TopK, logger)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}
