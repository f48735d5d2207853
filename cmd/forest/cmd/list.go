package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/search"
	"github.com/bwl/forest/internal/store"
)

// newListCmd creates the metadata listing command.
func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		id, title, term   string
		tagsAll, tagsAny  []string
		since, until      string
		sortOrder         string
		origin, createdBy string
		chunks            bool
		limit, offset     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes by metadata",
		Long: `Filter notes by id prefix, title, term, tags, time window, and
provenance. Sort by recency, degree, or weighted degree.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sinceAt, err := parsePoint(since)
			if err != nil {
				return err
			}
			untilAt, err := parsePoint(until)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				notes, total, err := a.searcher.Metadata(cmd.Context(), search.MetadataQuery{
					ID:         id,
					Title:      title,
					Term:       term,
					TagsAll:    tagsAll,
					TagsAny:    tagsAny,
					Since:      sinceAt,
					Until:      untilAt,
					Sort:       sortOrder,
					Origin:     store.Origin(origin),
					CreatedBy:  createdBy,
					ShowChunks: chunks,
					Limit:      limit,
					Offset:     offset,
				})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(map[string]any{"notes": notes, "total": total})
				}
				for _, note := range notes {
					a.render.NoteLine(note)
				}
				if total > len(notes) {
					a.render.Printf("(%d of %d notes)\n", len(notes), total)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Note id or id prefix")
	cmd.Flags().StringVar(&title, "title", "", "Title substring")
	cmd.Flags().StringVar(&term, "term", "", "Substring across title, tags, and body")
	cmd.Flags().StringArrayVarP(&tagsAll, "tag", "t", nil, "Require this tag (repeatable)")
	cmd.Flags().StringArrayVar(&tagsAny, "any-tag", nil, "Require at least one of these tags")
	cmd.Flags().StringVar(&since, "since", "", "Updated after (duration ago, date, or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Updated before (duration ago, date, or RFC3339)")
	cmd.Flags().StringVar(&sortOrder, "sort", search.SortRecent, "Sort order: recent, degree, or score")
	cmd.Flags().StringVar(&origin, "origin", "", "Filter by origin (capture, write, synthesize, import, api)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Filter by creator")
	cmd.Flags().BoolVar(&chunks, "chunks", false, "Include document chunks")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum notes (0 means all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many notes")

	return cmd
}
