package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/config"
)

// newInitCmd creates the init command.
func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and initialize the data directory",
		Long: `Create the config file with defaults and initialize the store.

Existing config files are left alone unless --force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultPath()
			}

			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "config already exists at %s (use --force to overwrite)\n", path)
			} else {
				cfg := config.Default()
				if opts.dataDir != "" {
					cfg.Paths.DataDir = opts.dataDir
				}
				if err := cfg.Save(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			}

			// Opening once creates the database, the vector index, and
			// the lock file under the data directory.
			return withApp(cmd.Context(), opts, func(a *app) error {
				fmt.Fprintf(cmd.OutOrStdout(), "initialized %s (model %s, %d dimensions)\n",
					a.cfg.Paths.DataDir, a.store.EmbeddingModel(), a.store.Dimensions())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}
