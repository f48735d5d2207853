package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/topology"
)

// newContextCmd creates the topology summary command.
func newContextCmd(opts *rootOptions) *cobra.Command {
	var tag, query string
	var budget int

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Summarize a region of the graph",
		Long: `Seed from a tag's carriers or a query's top semantic hits, expand
one hop, classify nodes as hubs, bridges, or periphery, and emit a
summary within the token budget.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				summary, err := a.topo.Context(cmd.Context(), topology.Request{
					Tag:    tag,
					Query:  query,
					Budget: budget,
				})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(summary)
				}
				a.render.Topology(summary)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Seed from this tag's carriers")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Seed from this query's top hits")
	cmd.Flags().IntVar(&budget, "budget", topology.DefaultBudget, "Token budget for the summary")

	return cmd
}
