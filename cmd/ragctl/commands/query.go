package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conversepdf/internal/pipeline"
	"conversepdf/models"
)

var queryTopK int

func NewQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	cmd.Flags().IntVar(&queryTopK, "top-k", 0, "Number of chunks to retrieve (default DEFAULT_TOP_K)")
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := validateFormat(); err != nil {
		return err
	}
	ctx := cmd.Context()

	req := models.QueryRequest{Question: args[0]}
	if cmd.Flags().Changed("top-k") {
		req.TopK = &queryTopK
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	answer, err := s.components.Answerer(s.runner).Query(ctx, pipeline.NewRunID(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return writeJSON(out, answer)
	}
	fmt.Fprintln(out, answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Fprintf(out, "\nSources: %s\n", strings.Join(answer.Sources, ", "))
	}
	return nil
}
