// Corpusd indexes per-user document corpora into org-level vector indexes.
//
// The serve command runs the full daemon: a Temporal worker executing
// indexing workflows plus an operator HTTP server for health, metrics and
// run inspection. The index and sweep commands submit work to a running
// daemon; index can also run a one-shot pass in-process for development.
//
// Configuration is loaded from ~/.config/corpusd/config.yaml (override with
// --config) and environment variables. See internal/config for details.
//
// Usage:
//
//	# Run the daemon
//	corpusd serve
//
//	# Index one user's Drive corpus via the daemon
//	corpusd index --org acme --user alice --source drive
//
//	# Re-index every user with stored credentials
//	corpusd sweep --org acme --source drive
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag value; empty means the default path.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "corpusd",
	Short:         "Per-user document indexing into org-level vector indexes",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("corpusd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/corpusd/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}
