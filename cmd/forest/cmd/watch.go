package cmd

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/event"
	"github.com/bwl/forest/internal/watcher"
)

// newWatchCmd creates the vault watch command.
func newWatchCmd(opts *rootOptions) *cobra.Command {
	var debounce, poll string
	var noSync bool

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Mirror a markdown directory into the graph",
		Long: `Watch a vault directory and keep its markdown files imported as
documents. Edits that preserve a file's section shape flow through
segment edits, so unchanged chunk notes keep their edges.

Runs until interrupted. A full sync reconciles the vault on startup
unless --no-sync is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				debounceWindow, pollInterval := watcher.DefaultDebounce, time.Duration(0)
				if debounce == "" {
					debounce = a.cfg.Watch.Debounce
				}
				if d, err := time.ParseDuration(debounce); err == nil && d > 0 {
					debounceWindow = d
				}
				if poll == "" {
					poll = a.cfg.Watch.PollInterval
				}
				if d, err := time.ParseDuration(poll); err == nil && d > 0 {
					pollInterval = d
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				vault := watcher.NewVault(a.store, a.pipeline, args[0])
				if !noSync {
					a.render.Printf("syncing %s\n", args[0])
					if err := vault.Sync(ctx); err != nil {
						return err
					}
				}

				dw, err := watcher.WatchDir(args[0], debounceWindow)
				if err != nil {
					return err
				}
				defer func() { _ = dw.Close() }()

				go func() {
					for err := range dw.Errors() {
						slog.Warn("watch_error", slog.String("error", err.Error()))
					}
				}()

				// Mirror committed graph activity to the terminal.
				sub := a.bus.Subscribe(event.Filter{}, 256)
				defer sub.Close()
				go func() {
					for ev := range sub.C {
						a.render.Printf("%s  %.8s\n", ev.Kind, ev.EntityID)
					}
				}()

				a.render.Printf("watching %s (debounce %s)\n", args[0], debounceWindow)
				err = vault.Run(ctx, dw.Events(), pollInterval)
				if forerrors.IsKind(err, forerrors.KindCancelled) {
					a.render.Printf("stopped\n")
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&debounce, "debounce", "", "Event coalescing window (default: config)")
	cmd.Flags().StringVar(&poll, "poll", "", "Fallback full-sync interval (default: config)")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Skip the startup reconciliation pass")

	return cmd
}
