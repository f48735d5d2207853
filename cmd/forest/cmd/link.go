package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/admin"
)

// newLinkCmd creates the link command group.
func newLinkCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Suggest, create, and remove edges",
	}

	cmd.AddCommand(newLinkSuggestCmd(opts))
	cmd.AddCommand(newLinkAddCmd(opts))
	cmd.AddCommand(newLinkRemoveCmd(opts))
	cmd.AddCommand(newLinkRescoreCmd(opts))
	return cmd
}

func newLinkSuggestCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "suggest <ref>",
		Short: "Show near-threshold link candidates",
		Long: `Rank candidates scoring between the suggest and accept thresholds
against the note. Nothing is persisted; promote one with 'link add'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				note, err := a.store.ResolveNote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				suggestions, err := a.engine.Suggestions(cmd.Context(), note.ID, limit)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(suggestions)
				}
				for _, s := range suggestions {
					other, err := a.store.GetNote(cmd.Context(), s.NoteID)
					if err != nil {
						continue
					}
					a.render.Printf("%.3f  ", s.Result.Score)
					a.render.NoteLine(other)
				}
				if len(suggestions) == 0 {
					a.render.Printf("no suggestions for %s\n", note.Title)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum suggestions")

	return cmd
}

func newLinkAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <ref> <ref>",
		Short: "Create a manual edge between two notes",
		Long:  `Manual edges carry score 1.0 and are never removed by rescoring.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				first, err := a.store.ResolveNote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				second, err := a.store.ResolveNote(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				edge, err := a.engine.CreateManualEdge(cmd.Context(), first.ID, second.ID)
				if err != nil {
					return err
				}
				a.afterMutation(cmd.Context())

				if opts.jsonOutput {
					return printJSON(edge)
				}
				a.render.Edge(edge)
				return nil
			})
		},
	}
}

func newLinkRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <edge-ref>",
		Short: "Remove an edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				edge, err := a.store.ResolveEdge(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := a.engine.RemoveEdge(cmd.Context(), edge.ID); err != nil {
					return err
				}
				a.afterMutation(cmd.Context())
				a.render.Success("removed edge %s", edge.ID)
				return nil
			})
		},
	}
}

func newLinkRescoreCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "rescore [ref]",
		Short: "Rescore a note's edges, or every edge with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return cmd.Help()
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				if all {
					done := 0
					err := a.admin().RescoreAll(cmd.Context(), func(p admin.Progress) {
						done = p.Done
					})
					if err != nil {
						return err
					}
					a.afterMutation(cmd.Context())
					a.render.Success("rescored %d notes", done)
					return nil
				}
				note, err := a.store.ResolveNote(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := a.engine.RescoreOne(cmd.Context(), note.ID); err != nil {
					return err
				}
				a.afterMutation(cmd.Context())
				a.render.Success("rescored %s", note.Title)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Rescore every note")

	return cmd
}
