package sim

import (
	"fmt"
	"net"
	"testing"
)

// StartTestServer serves a fresh Device on a free local port for the
// lifetime of the test.
func StartTestServer(tb testing.TB, cfg Config) (*Server, int) {
	tb.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("failed to find free port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	server, err := Listen(fmt.Sprintf("127.0.0.1:%d", port), NewDevice(cfg))
	if err != nil {
		tb.Fatalf("failed to start simulated device: %v", err)
	}
	tb.Cleanup(func() { server.Close() })
	return server, port
}
