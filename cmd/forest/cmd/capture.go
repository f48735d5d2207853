package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/link"
	"github.com/bwl/forest/internal/store"
)

// newCaptureCmd creates the capture command.
func newCaptureCmd(opts *rootOptions) *cobra.Command {
	var body string
	var tags []string
	var createdBy string
	var noLink bool

	cmd := &cobra.Command{
		Use:   "capture <title>",
		Short: "Capture a note into the graph",
		Long: `Create a note, embed it, and link it to its semantic neighbors.

The body comes from --body, or from stdin when --body is omitted or "-".
Hashtags in the body become tags alongside any --tag flags.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if body == "" || body == "-" {
				var err error
				if body, err = readStdin(); err != nil {
					return err
				}
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				note, err := a.engine.CaptureNote(cmd.Context(), link.CaptureInput{
					Title:      args[0],
					Body:       body,
					Tags:       tags,
					Origin:     store.OriginCapture,
					CreatedBy:  createdBy,
					NoAutoLink: noLink,
				})
				if err != nil {
					return err
				}
				a.afterMutation(cmd.Context())

				if opts.jsonOutput {
					return printJSON(note)
				}
				edges, err := a.store.EdgesForNote(cmd.Context(), note.ID)
				if err != nil {
					return err
				}
				a.render.Success("captured %s", note.Title)
				a.render.Note(note, edges)
				if note.Embedding == nil {
					a.render.Warn("embedding absent; run 'forest admin recompute-embeddings' once the provider is back")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&body, "body", "b", "", `Note body ("-" or empty reads stdin)`)
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "Explicit tag (repeatable)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Provenance: who created this note")
	cmd.Flags().BoolVar(&noLink, "no-link", false, "Skip automatic linking")

	return cmd
}
