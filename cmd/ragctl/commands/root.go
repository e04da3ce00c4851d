// Package commands implements ragctl, which runs the ingestion and query
// pipelines in process against the configured store and providers.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"conversepdf/internal/app"
	"conversepdf/internal/config"
	"conversepdf/internal/journal"
	"conversepdf/internal/logger"
	"conversepdf/internal/pipeline"
)

var outputFormat string

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragctl",
		Short: "Ingest documents and ask questions about them",
		Long: `ragctl runs the ingestion and query pipelines in process.

Configuration comes from the environment and an optional .env file,
the same variables the API server and worker read.

Examples:
  ragctl ensure-collection
  ragctl ingest ./docs/report.pdf
  ragctl query --top-k 8 "What were the Q3 results?"`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")

	cmd.AddCommand(NewIngestCmd())
	cmd.AddCommand(NewQueryCmd())
	cmd.AddCommand(NewEnsureCollectionCmd())
	return cmd
}

func Execute() error {
	return NewRootCmd().Execute()
}

// session is one in-process pipeline setup. Step results are journaled in
// memory, so retries within a command replay completed steps.
type session struct {
	cfg        *config.Config
	components *app.Components
	runner     *pipeline.Runner
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg, os.Stderr)

	components, err := app.Build(ctx, cfg, nil, log)
	if err != nil {
		return nil, fmt.Errorf("initializing pipeline: %w", err)
	}
	if err := components.EnsureCollection(ctx); err != nil {
		components.Close(ctx)
		return nil, fmt.Errorf("ensuring collection %s: %w", cfg.CollectionName, err)
	}
	return &session{
		cfg:        cfg,
		components: components,
		runner:     components.Runner(journal.NewMemoryJournal(), app.RetryPolicy(cfg)),
	}, nil
}

func (s *session) Close(ctx context.Context) {
	s.components.Close(ctx)
}

func validateFormat() error {
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("--format must be text or json, got %q", outputFormat)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
