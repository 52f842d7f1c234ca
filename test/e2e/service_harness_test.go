package e2e

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stockwatch/internal/api"
	"stockwatch/internal/app"
	"stockwatch/internal/clock"
	"stockwatch/internal/config"
)

// newServiceFromConfig writes config body and builds Service with the API mounted.
// Params: test handle and TOML config body.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, body string) *app.Service {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stockwatch.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	service.Mount("/api/", api.NewHandler(service.Manager(), service.Logger(), service.Config().API.MaxBodyBytes))
	return service
}

// runService starts service in background with cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for /readyz endpoint to return 200.
func waitReady(t *testing.T, port int) {
	t.Helper()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitFor(t, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}
