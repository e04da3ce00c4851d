package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"conversepdf/internal/pipeline"
	"conversepdf/models"
)

var ingestSourceID string

func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Chunk, embed and index a document",
		Long: `Ingest a PDF, text or markdown file.

The source id defaults to the path. Ingesting the same source again
overwrites its chunks instead of duplicating them.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}
	cmd.Flags().StringVar(&ingestSourceID, "source-id", "", "Source id stored with every chunk")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := validateFormat(); err != nil {
		return err
	}
	ctx := cmd.Context()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	req := models.IngestRequest{SourceID: ingestSourceID, DocumentReference: args[0]}
	runID := pipeline.NewRunID()
	res, err := s.components.Ingestor(s.runner).Ingest(ctx, runID, req)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", args[0], err)
	}

	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"run_id": runID, "ingested": res.Ingested})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %s\n", res.Ingested, args[0])
	return nil
}
