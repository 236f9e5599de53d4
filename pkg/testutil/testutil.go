// Package testutil provides testing utilities for pulse components.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// TestServer is an in-memory gRPC server backed by bufconn.
type TestServer struct {
	Listener *bufconn.Listener
	Server   *grpc.Server
}

// NewTestServer creates an in-memory test server. Register services on
// Server before calling Start.
func NewTestServer() *TestServer {
	return &TestServer{
		Listener: bufconn.Listen(1 << 20),
		Server:   grpc.NewServer(),
	}
}

// Start serves in a goroutine until Stop.
func (ts *TestServer) Start() {
	go ts.Server.Serve(ts.Listener) //nolint:errcheck // Serve returns on Stop
}

// Stop stops the test server.
func (ts *TestServer) Stop() {
	ts.Server.Stop()
}

// Dial connects to the test server over the in-memory listener.
func (ts *TestServer) Dial(ctx context.Context) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ts.Listener.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
}

// TestLogger returns a debug-level logger tagged with the test name.
func TestLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})).With("test", t.Name())
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WaitFor polls condition until it holds or the timeout expires.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(timeout)
	for {
		if condition() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for condition: %s", msg)
		case <-tick.C:
		}
	}
}

// TestContext returns a context cancelled when the test ends, with a 30s
// ceiling for hung tests.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// GetFreePort reserves and releases an ephemeral TCP port.
func GetFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}
