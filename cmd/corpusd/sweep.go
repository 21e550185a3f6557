package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/quillstack/corpusd/internal/config"
	"github.com/quillstack/corpusd/internal/workflows"
)

var (
	sweepOrg    string
	sweepSource string
	sweepWait   bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-index every user with stored credentials",
	Long: `Start an org sweep workflow on the running daemon. The sweep lists
all users with stored credentials for the datasource and runs a full
indexing pass for each, one user at a time.

Examples:
  corpusd sweep --org acme --source drive
  corpusd sweep --org acme --source drive --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep()
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepOrg, "org", "", "organization name")
	sweepCmd.Flags().StringVar(&sweepSource, "source", "drive", "datasource name")
	sweepCmd.Flags().BoolVar(&sweepWait, "wait", false, "wait for the sweep result")
	_ = sweepCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	run, err := workflows.StartOrgSweep(ctx, c, cfg.Temporal.TaskQueue, workflows.OrgSweepInput{
		OrgName:    sweepOrg,
		Datasource: sweepSource,
	})
	if err != nil {
		return fmt.Errorf("starting sweep: %w", err)
	}
	fmt.Printf("Sweep started: %s (run %s)\n", run.GetID(), run.GetRunID())

	if !sweepWait {
		return nil
	}

	var result workflows.OrgSweepResult
	if err := run.Get(ctx, &result); err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Printf("Users:     %d total, %d succeeded, %d failed\n",
		result.UsersTotal, result.UsersSucceeded, result.UsersFailed)
	for _, failure := range result.Failures {
		fmt.Printf("  failed: %s\n", failure)
	}
	return nil
}
