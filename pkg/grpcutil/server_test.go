package grpcutil

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig(9001, "pulse")

	if cfg.Port != 9001 {
		t.Errorf("Port = %v, want %v", cfg.Port, 9001)
	}
	if cfg.ServiceName != "pulse" {
		t.Errorf("ServiceName = %v, want %v", cfg.ServiceName, "pulse")
	}
	if !cfg.EnableReflection {
		t.Error("EnableReflection = false, want true")
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want %v", cfg.ShutdownTimeout, 30*time.Second)
	}
}

func TestNewServer(t *testing.T) {
	logger := slog.Default()
	cfg := DefaultServerConfig(9002, "pulse")

	server := NewServer(cfg, logger)

	if server == nil {
		t.Fatal("NewServer() returned nil")
	}
	if server.grpcServer == nil {
		t.Error("grpcServer is nil")
	}
	if server.healthServer == nil {
		t.Error("healthServer is nil")
	}
	if server.config.Port != cfg.Port {
		t.Errorf("config.Port = %v, want %v", server.config.Port, cfg.Port)
	}
}

func TestServer_GRPCServer(t *testing.T) {
	logger := slog.Default()
	cfg := DefaultServerConfig(9003, "pulse")

	server := NewServer(cfg, logger)
	grpcServer := server.GRPCServer()

	if grpcServer == nil {
		t.Fatal("GRPCServer() returned nil")
	}
	if grpcServer != server.grpcServer {
		t.Error("GRPCServer() did not return the internal gRPC server")
	}
}

func TestServer_SetServingStatus(t *testing.T) {
	logger := slog.Default()
	cfg := DefaultServerConfig(9004, "pulse")

	server := NewServer(cfg, logger)

	// Should not panic when toggled repeatedly
	server.SetServingStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	server.SetServingStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	server.SetServingStatus(grpc_health_v1.HealthCheckResponse_SERVING)
}

func TestServer_HealthCheck(t *testing.T) {
	logger := slog.Default()
	cfg := DefaultServerConfig(0, "pulse")
	server := NewServer(cfg, logger)

	lis := bufconn.Listen(1024 * 1024)
	go func() {
		_ = server.GRPCServer().Serve(lis)
	}()
	defer server.GRPCServer().Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "pulse"})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Status = %v, want %v", resp.Status, grpc_health_v1.HealthCheckResponse_SERVING)
	}

	server.SetServingStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "pulse"})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Status = %v, want %v", resp.Status, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
}
