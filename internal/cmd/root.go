// Package cmd provides the mergebot CLI command tree.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is the bot's own build version, distinct from the platform
// version the supervisor probes at startup; set via -ldflags at release
// build time, "dev" otherwise.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "mergebot",
	Short:   "Automated merge-train bot for the self-hosted review platform",
	Version: Version,
	Long: `mergebot watches assigned merge requests, runs each through the
merge job state machine (rebase/merge onto target, CI gating, trailer
rewriting, acceptance), and optionally batches many MRs onto one
integration branch to amortize CI cost.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd, watchCmd, configCmd, versionCmd)
}
