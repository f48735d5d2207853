package cmd

import (
	"github.com/spf13/cobra"

	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/temporal"
)

// newDiffCmd creates the temporal diff command.
func newDiffCmd(opts *rootOptions) *cobra.Command {
	var since string
	var limit int

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show what changed since a point in time",
		Long: `Replay the event log from the nearest snapshot at or before --since
and report added, removed, and updated notes and edges.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since == "" {
				return forerrors.Validation("--since is required")
			}
			sinceAt, err := parsePoint(since)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				diff, err := a.temporal.ComputeDiff(cmd.Context(), sinceAt, limit)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(diff)
				}
				a.render.Diff(diff)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Diff baseline (duration ago, date, or RFC3339)")
	cmd.Flags().IntVarP(&limit, "limit", "n", temporal.DefaultSectionLimit, "Maximum items per section")

	return cmd
}
