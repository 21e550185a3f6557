package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/quillstack/corpusd/internal/config"
	"github.com/quillstack/corpusd/internal/logging"
	"github.com/quillstack/corpusd/internal/workflows"
)

var (
	indexOrg    string
	indexUser   string
	indexSource string
	indexLocal  bool
	indexWait   bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index one user's corpus",
	Long: `Submit an indexing workflow for one user to the running daemon.

With --local the full pipeline runs in this process instead, without
Temporal. Local runs still go through the run tracker, so a concurrent run
for the same user is rejected either way.

Examples:
  # Submit to the daemon and return immediately
  corpusd index --org acme --user alice --source drive

  # Submit and wait for the result
  corpusd index --org acme --user alice --source drive --wait

  # Run in-process (development)
  corpusd index --org acme --user alice --source drive --local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex()
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexOrg, "org", "", "organization name")
	indexCmd.Flags().StringVar(&indexUser, "user", "", "user ID")
	indexCmd.Flags().StringVar(&indexSource, "source", "drive", "datasource name")
	indexCmd.Flags().BoolVar(&indexLocal, "local", false, "run the pipeline in-process instead of via the daemon")
	indexCmd.Flags().BoolVar(&indexWait, "wait", false, "wait for the workflow result")
	_ = indexCmd.MarkFlagRequired("org")
	_ = indexCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(indexCmd)
}

func runIndex() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	input := workflows.IndexUserInput{
		OrgName:    indexOrg,
		UserID:     indexUser,
		Datasource: indexSource,
	}
	if err := input.Validate(); err != nil {
		return err
	}

	if indexLocal {
		return runIndexLocal(ctx, cfg, input)
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	run, err := workflows.StartUserIndex(ctx, c, cfg.Temporal.TaskQueue, input)
	if err != nil {
		return fmt.Errorf("starting workflow: %w", err)
	}
	fmt.Printf("Workflow started: %s (run %s)\n", run.GetID(), run.GetRunID())

	if !indexWait {
		return nil
	}

	var result workflows.IndexUserResult
	if err := run.Get(ctx, &result); err != nil {
		return fmt.Errorf("workflow failed: %w", err)
	}
	printIndexResult(result)
	return nil
}

// runIndexLocal runs the pipeline in-process, for development and small
// single-node deployments without a Temporal server.
func runIndexLocal(ctx context.Context, cfg *config.Config, input workflows.IndexUserInput) error {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	result, err := deps.pipeline.IndexUser(ctx, input.OrgName, input.UserID, input.Datasource)
	printIndexResult(workflows.IndexUserResult{
		RunID:          result.RunID,
		IndexName:      result.IndexName,
		ItemsTotal:     result.ItemsTotal,
		ItemsCompleted: result.ItemsCompleted,
		ItemsFailed:    result.ItemsFailed,
	})
	return err
}

func printIndexResult(result workflows.IndexUserResult) {
	fmt.Printf("Run:       %s\n", result.RunID)
	fmt.Printf("Index:     %s\n", result.IndexName)
	fmt.Printf("Items:     %d total, %d completed, %d failed\n",
		result.ItemsTotal, result.ItemsCompleted, result.ItemsFailed)
}
