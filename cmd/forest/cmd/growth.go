package cmd

import (
	"github.com/spf13/cobra"
)

// newGrowthCmd creates the growth timeline command.
func newGrowthCmd(opts *rootOptions) *cobra.Command {
	var since, until string
	var points int

	cmd := &cobra.Command{
		Use:   "growth",
		Short: "Show node, edge, and tag counts over time",
		Long:  `Build a timeline from stored snapshots plus a live point for the current state.`,
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
				timeline, err := a.temporal.Growth(cmd.Context(), sinceAt, untilAt, points)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(timeline)
				}
				a.render.Growth(timeline)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Window start (duration ago, date, or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Window end (duration ago, date, or RFC3339)")
	cmd.Flags().IntVarP(&points, "points", "n", 0, "Downsample to this many points (0 keeps all)")

	return cmd
}
