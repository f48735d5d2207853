package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/store"
	"github.com/bwl/forest/internal/temporal"
)

// newSnapshotCmd creates the snapshot command group.
func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Take and manage graph snapshots",
	}

	cmd.AddCommand(newSnapshotCreateCmd(opts))
	cmd.AddCommand(newSnapshotListCmd(opts))
	cmd.AddCommand(newSnapshotPruneCmd(opts))
	return cmd
}

func newSnapshotCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Take a manual snapshot",
		Long:  `Record counts, content digests, and the event cursor in one transaction.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				snap, err := a.temporal.CreateSnapshot(cmd.Context(), store.SnapshotManual)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(snap)
				}
				a.render.Success("snapshot %.8s: %d notes, %d edges, %d tags",
					snap.ID, snap.NodeCount, snap.EdgeCount, snap.TagCount)
				return nil
			})
		},
	}
}

func newSnapshotListCmd(opts *rootOptions) *cobra.Command {
	var since, until, snapType string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
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
				snaps, err := a.temporal.ListSnapshots(cmd.Context(), temporal.ListOptions{
					Since: sinceAt,
					Until: untilAt,
					Type:  store.SnapshotType(snapType),
					Limit: limit,
				})
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(snaps)
				}
				for _, snap := range snaps {
					a.render.Printf("%.8s  %s  %-6s  notes %4d  edges %4d  tags %4d\n",
						snap.ID, snap.TakenAt.Format("2006-01-02 15:04"),
						snap.SnapshotType, snap.NodeCount, snap.EdgeCount, snap.TagCount)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Taken after (duration ago, date, or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Taken before (duration ago, date, or RFC3339)")
	cmd.Flags().StringVar(&snapType, "type", "", "Filter by type: manual or auto")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum snapshots (0 means all)")

	return cmd
}

func newSnapshotPruneCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove auto snapshots past the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				pruned, err := a.temporal.PruneExpired(cmd.Context())
				if err != nil {
					return err
				}
				a.render.Success("pruned %d snapshots", pruned)
				return nil
			})
		},
	}
}
