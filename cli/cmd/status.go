package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/instantcocoa/pulse/cli/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check a running pulse daemon",
	Long:  "Queries the gRPC health endpoint of a running pulse daemon.",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := grpc.NewClient(cfg.HealthAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer conn.Close()

		client := grpc_health_v1.NewHealthClient(conn)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: serviceName})
		if err != nil {
			return fmt.Errorf("failed to check health: %w", err)
		}

		if cfg.Format == "json" || cfg.Format == "yaml" {
			w := output.NewWriter(cfg.Format)
			return w.Print(map[string]string{
				"addr":   cfg.HealthAddr,
				"status": resp.Status.String(),
			})
		}

		table := output.Table{
			Headers: []string{"ADDR", "STATUS"},
			Rows:    [][]string{{cfg.HealthAddr, resp.Status.String()}},
		}
		w := output.NewWriter("table")
		return w.Print(table)
	},
}
