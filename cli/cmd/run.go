package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/instantcocoa/pulse/pipeline"
	"github.com/instantcocoa/pulse/pkg/config"
	"github.com/instantcocoa/pulse/pkg/grpcutil"
)

const serviceName = "pulse"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the telemetry daemon",
	Long: `Starts the full pipeline (tracer, metrics collector, alerting engine)
plus a gRPC health endpoint, and blocks until interrupted.

Configuration comes from PULSE_* environment variables; see pkg/config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := config.Load(serviceName)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger := pipeline.NewLogger(cfg)

		p, err := pipeline.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to build pipeline: %w", err)
		}

		p.Start()
		defer p.Shutdown(ctx)

		serverCfg := grpcutil.DefaultServerConfig(cfg.HealthPort, serviceName)
		server := grpcutil.NewServer(serverCfg, logger)

		logger.Info("starting pulse daemon",
			"health_port", cfg.HealthPort,
			"env", cfg.Environment,
		)

		// Blocks until SIGINT/SIGTERM, then shuts down gracefully.
		return server.Run(ctx)
	},
}
