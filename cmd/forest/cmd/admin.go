package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/admin"
)

// newAdminCmd creates the admin batch command group.
func newAdminCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Batch maintenance over the whole graph",
	}

	cmd.AddCommand(newAdminRecomputeCmd(opts))
	cmd.AddCommand(newAdminRetagCmd(opts))
	cmd.AddCommand(newAdminBackfillCmd(opts))
	return cmd
}

// reportProgress renders batch progress ticks and failures.
func reportProgress(a *app) admin.ProgressFunc {
	return func(p admin.Progress) {
		if p.Err != nil {
			a.render.Warn("%.8s: %v", p.NoteID, p.Err)
			return
		}
		if p.Total > 0 {
			a.render.Progress(p.Done, p.Total, "notes")
		}
	}
}

func newAdminRecomputeCmd(opts *rootOptions) *cobra.Command {
	var force, rescore bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "recompute-embeddings",
		Short: "Re-embed every note with the current provider",
		Long: `Resumable: notes already carrying the current model's embedding are
skipped unless --force. Provider calls run concurrently.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				runner := a.admin()
				if concurrency > 0 {
					runner = admin.New(a.store, a.engine, a.pipeline, a.embedder, nil, concurrency)
				}
				report, err := runner.RecomputeEmbeddings(cmd.Context(), admin.RecomputeOptions{
					Force:   force,
					Rescore: rescore,
				}, reportProgress(a))
				if err != nil {
					return err
				}
				a.afterMutation(cmd.Context())

				if opts.jsonOutput {
					return printJSON(report)
				}
				a.render.Success("recomputed %d notes (%d skipped, %d failed)",
					report.Processed, report.Skipped, report.Failed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-embed notes already on the current model")
	cmd.Flags().BoolVar(&rescore, "rescore", false, "Rescore all edges afterwards")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent provider calls (default: config max_concurrent)")

	return cmd
}

func newAdminRetagCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	var limit, skip int

	cmd := &cobra.Command{
		Use:   "retag",
		Short: "Rederive tags for every note",
		Long: `Re-run tag derivation over all notes and write the differences.
Use --skip and --limit to resume an interrupted run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				report, err := a.admin().RetagAll(cmd.Context(), admin.RetagOptions{
					DryRun:        dryRun,
					Limit:         limit,
					Skip:          skip,
					SkipUnchanged: true,
				}, reportProgress(a))
				if err != nil {
					return err
				}
				if !dryRun {
					a.afterMutation(cmd.Context())
				}

				if opts.jsonOutput {
					return printJSON(report)
				}
				for _, change := range report.Changes {
					a.render.Printf("%.8s: %v -> %v\n", change.NoteID, change.Before, change.After)
				}
				verb := "retagged"
				if dryRun {
					verb = "would retag"
				}
				a.render.Success("%s %d notes (%d unchanged, %d failed)",
					verb, report.Processed, report.Skipped, report.Failed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report changes without writing")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum notes to examine (0 means all)")
	cmd.Flags().IntVar(&skip, "skip", 0, "Skip this many notes before starting")

	return cmd
}

func newAdminBackfillCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-documents",
		Short: "Synthesize document records for orphaned chunk notes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				report, err := a.admin().BackfillDocuments(cmd.Context())
				if err != nil {
					return err
				}
				a.afterMutation(cmd.Context())

				if opts.jsonOutput {
					return printJSON(report)
				}
				a.render.Success("backfilled %d documents from %d chunks",
					report.DocumentsCreated, report.ChunksAdopted)
				return nil
			})
		},
	}
}
