package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/groundchat/groundchat/internal/rag"
)

// indexParallelism bounds concurrent file indexing. Embedding is the
// bottleneck, so a small number keeps the API rate limiter happy.
const indexParallelism = 4

var indexCmd = &cobra.Command{
	Use:   "index [file...]",
	Short: "Index documents for retrieval",
	Long: `Index reads the given text files, splits them into overlapping chunks,
embeds each chunk, and stores the vectors. Re-indexing a file replaces its
previous content.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexParallelism)

	var mu sync.Mutex
	totalChunks := 0

	for _, path := range args {
		g.Go(func() error {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}

			result, err := a.Indexer.Index(gctx, rag.Document{
				Source:  filepath.Base(path),
				Content: string(content),
				Metadata: map[string]string{
					"path": path,
				},
			})
			if err != nil {
				var partial *rag.PartialIndexError
				if errors.As(err, &partial) {
					return fmt.Errorf("indexing %s: %d records written before failure, "+
						"re-run to complete: %w", path, len(partial.Confirmed), err)
				}
				return fmt.Errorf("indexing %s: %w", path, err)
			}

			mu.Lock()
			totalChunks += result.Chunks
			mu.Unlock()

			fmt.Printf("indexed %s: %d chunks in %v\n", result.Source, result.Chunks, result.Duration)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("done: %d files, %d chunks\n", len(args), totalChunks)
	return nil
}
