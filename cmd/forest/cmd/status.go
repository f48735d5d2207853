package cmd

import (
	"github.com/spf13/cobra"
)

// newStatusCmd creates the status command.
func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store statistics",
		Long:  `Display note, edge, document, and snapshot counts plus the pinned embedding configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				stats, err := a.store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(stats)
				}
				a.render.Stats(stats)
				return nil
			})
		},
	}
}
