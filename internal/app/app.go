// Package app provides application initialization and dependency wiring.
//
// App is the core container: it initializes Genkit, the vector store
// backend, the embedding gateway, the indexing and retrieval pipelines, and
// the chat engine, and owns their shutdown order.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/groundchat/groundchat/internal/chat"
	"github.com/groundchat/groundchat/internal/config"
	"github.com/groundchat/groundchat/internal/embedding"
	"github.com/groundchat/groundchat/internal/rag"
	"github.com/groundchat/groundchat/internal/session"
	"github.com/groundchat/groundchat/internal/vectorstore"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Gateway  *embedding.Gateway
	Store    vectorstore.Store
	DBPool   *pgxpool.Pool // nil for the chromem backend

	// Pipelines
	Indexer   *rag.Indexer
	Retriever *rag.Retriever
	Sessions  *session.Store
	Engine    *chat.Engine

	// Lifecycle management
	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger().Info("database pool closed")
	}

	// Flush pending spans last so shutdown itself is traced.
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
