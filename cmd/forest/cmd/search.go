package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/search"
)

// newSearchCmd creates the semantic search command.
func newSearchCmd(opts *rootOptions) *cobra.Command {
	var limit, offset int
	var minScore float64
	var tags []string
	var chunks bool

	cmd := &cobra.Command{
		Use:   "search <text>...",
		Short: "Search notes by meaning",
		Long: `Rank notes by cosine similarity between the query embedding and
stored note embeddings. Falls back to a term match when the query
cannot be embedded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				result, err := a.searcher.Semantic(cmd.Context(), search.SemanticQuery{
					Text:          strings.Join(args, " "),
					Limit:         limit,
					Offset:        offset,
					MinScore:      minScore,
					Tags:          tags,
					IncludeChunks: chunks,
				})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(result)
				}
				a.render.SemanticHits(result)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", search.DefaultLimit, "Maximum hits")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many hits")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop hits below this similarity")
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "Require this tag (repeatable)")
	cmd.Flags().BoolVar(&chunks, "chunks", false, "Include document chunks")

	return cmd
}
