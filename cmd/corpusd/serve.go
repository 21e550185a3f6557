package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/quillstack/corpusd/internal/config"
	"github.com/quillstack/corpusd/internal/logging"
	"github.com/quillstack/corpusd/internal/server"
	"github.com/quillstack/corpusd/internal/telemetry"
	"github.com/quillstack/corpusd/internal/workflows"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the indexing worker and operator HTTP server",
	Long: `Run the corpusd daemon: a Temporal worker that executes indexing
workflows, plus an HTTP server exposing health, Prometheus metrics and
read-only run inspection.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// shutdownTimeout bounds graceful shutdown of the HTTP server and trace
// exporter after a termination signal.
const shutdownTimeout = 15 * time.Second

func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "corpusd starting",
		zap.String("version", version),
		zap.String("environment", cfg.Index.Environment),
		zap.String("vectorstore", cfg.VectorStore.Backend),
		zap.String("addr", cfg.Server.Addr))

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn(sctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	logger.Info(ctx, "temporal client connected",
		zap.String("host", cfg.Temporal.HostPort),
		zap.String("namespace", cfg.Temporal.Namespace))

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	workflows.Register(w, &workflows.Activities{
		Pipeline: deps.pipeline,
		Users:    deps.users,
	})

	srv := server.New(deps.tracker, logger)

	workerErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "worker starting", zap.String("task_queue", cfg.Temporal.TaskQueue))
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn(sctx, "server shutdown failed", zap.Error(err))
	}

	logger.Info(context.Background(), "corpusd stopped gracefully")
	return nil
}
