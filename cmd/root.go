// Package cmd implements the groundchat CLI: an interactive chat REPL, a
// one-shot ask command, and document indexing.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundchat/groundchat/internal/app"
	"github.com/groundchat/groundchat/internal/config"
	"github.com/groundchat/groundchat/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "groundchat",
	Short: "groundchat - chat with your documents",
	Long: `groundchat indexes your documents into a vector store and answers
questions grounded in the retrieved passages, with source citations.

Running groundchat without a subcommand starts the interactive chat.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger initializes the structured logger.
//
// Log level is controlled by the DEBUG environment variable:
//   - DEBUG set (any value): debug level logging
//   - DEBUG not set: info level logging
//
// Logs go to stderr; stdout is reserved for answers.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.NewWithWriter(os.Stderr, log.Config{Level: level})
}

// setupApp loads configuration and initializes the application container.
// The caller must Close() the returned App.
func setupApp(ctx context.Context) (*app.App, error) {
	logger := initLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}
