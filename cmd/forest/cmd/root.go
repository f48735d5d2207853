// Package cmd provides the CLI commands for Forest.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bwl/forest/internal/config"
	"github.com/bwl/forest/pkg/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	dataDir    string
	jsonOutput bool
	debug      bool
}

// NewRootCmd creates the root command for the forest CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "forest",
		Short: "Personal knowledge graph with semantic links",
		Long: `Forest grows a weighted graph out of your notes.

Captured notes and imported markdown documents are embedded, tokenized,
and linked to their semantic neighbors automatically. Search, walk, and
summarize the graph; snapshot it and diff it over time.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("forest version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file path (default: "+config.DefaultPath()+")")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Data directory override")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON where supported")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newCaptureCmd(opts))
	cmd.AddCommand(newNoteCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newGraphCmd(opts))
	cmd.AddCommand(newContextCmd(opts))
	cmd.AddCommand(newLinkCmd(opts))
	cmd.AddCommand(newDocCmd(opts))
	cmd.AddCommand(newSnapshotCmd(opts))
	cmd.AddCommand(newDiffCmd(opts))
	cmd.AddCommand(newGrowthCmd(opts))
	cmd.AddCommand(newAdminCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
