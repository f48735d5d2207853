package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/search"
)

// newGraphCmd creates the neighborhood expansion command.
func newGraphCmd(opts *rootOptions) *cobra.Command {
	var depth, limit int

	cmd := &cobra.Command{
		Use:   "graph <ref>",
		Short: "Walk a note's neighborhood",
		Long: `Expand the graph around a note, strongest edges first, and print
the nodes with their induced edges.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				center, err := a.store.ResolveNote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				graph, err := a.searcher.Neighborhood(cmd.Context(), center.ID, depth, limit)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(graph)
				}
				a.render.Graph(graph)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "d", 1, "Expansion depth (1 or 2)")
	cmd.Flags().IntVarP(&limit, "limit", "n", search.DefaultNeighborhoodLimit, "Maximum nodes")

	return cmd
}
