package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/link"
)

// newNoteCmd creates the note command group.
func newNoteCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Show, edit, or delete a note",
	}

	cmd.AddCommand(newNoteShowCmd(opts))
	cmd.AddCommand(newNoteEditCmd(opts))
	cmd.AddCommand(newNoteDeleteCmd(opts))
	return cmd
}

func newNoteShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <ref>",
		Short: "Show a note with its edges",
		Long:  `Resolve a note by id, unique id prefix, exact title, or list ordinal and print it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				note, err := a.store.ResolveNote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				edges, err := a.store.EdgesForNote(cmd.Context(), note.ID)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(map[string]any{"note": note, "edges": edges})
				}
				a.render.Note(note, edges)
				for _, edge := range edges {
					a.render.Edge(edge)
				}
				return nil
			})
		},
	}
}

func newNoteEditCmd(opts *rootOptions) *cobra.Command {
	var title, body string
	var tags []string

	cmd := &cobra.Command{
		Use:   "edit <ref>",
		Short: "Edit a note's title, body, or tags",
		Long: `Rewrite the given fields, re-embed if the text changed, and rescore
the note's edges. Omitted fields keep their value; --tag replaces the
explicit tag set when given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := link.UpdateInput{}
			if cmd.Flags().Changed("title") {
				input.Title = &title
			}
			if cmd.Flags().Changed("body") {
				if body == "-" {
					text, err := readStdin()
					if err != nil {
						return err
					}
					body = text
				}
				input.Body = &body
			}
			if cmd.Flags().Changed("tag") {
				input.Tags = tags
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				note, err := a.store.ResolveNote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				updated, err := a.engine.UpdateNote(cmd.Context(), note.ID, input)
				if err != nil {
					return err
				}
				a.afterMutation(cmd.Context())

				if opts.jsonOutput {
					return printJSON(updated)
				}
				a.render.Success("updated %s", updated.Title)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&body, "body", "", `New body ("-" reads stdin)`)
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "Replacement tag set (repeatable)")

	return cmd
}

func newNoteDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <ref>",
		Short: "Delete a note and its edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				note, err := a.store.ResolveNote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := a.engine.DeleteNote(cmd.Context(), note.ID); err != nil {
					return err
				}
				a.afterMutation(cmd.Context())
				a.render.Success("deleted %s", note.Title)
				return nil
			})
		},
	}
}
