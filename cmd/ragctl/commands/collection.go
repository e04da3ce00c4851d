package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewEnsureCollectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-collection",
		Short: "Create the vector collection or verify its schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			fmt.Fprintf(cmd.OutOrStdout(), "Collection %s ready (%d dimensions, %s)\n",
				s.cfg.CollectionName, s.cfg.VectorDimensions, s.cfg.VectorStore)
			return nil
		},
	}
}
