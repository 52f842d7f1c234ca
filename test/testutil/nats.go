package testutil

import (
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	natsReadyTimeout = 8 * time.Second
	natsStopTimeout  = 5 * time.Second
)

// StartLocalNATSServer runs a throwaway nats-server with JetStream for integration tests.
// The test is skipped when the nats-server binary is not installed. The server is
// stopped on test cleanup; the returned stop callback allows stopping it earlier.
func StartLocalNATSServer(tb testing.TB) (string, func()) {
	tb.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("reserve nats port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	cmd := exec.Command("nats-server", "-js", "-a", "127.0.0.1", "-p", strconv.Itoa(port), "-sd", tb.TempDir())
	if err := cmd.Start(); err != nil {
		tb.Skipf("nats-server is required for integration test: %v", err)
	}

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() { terminate(cmd) })
	}
	tb.Cleanup(stop)

	url := "nats://127.0.0.1:" + strconv.Itoa(port)
	WaitForJetStream(tb, url, natsReadyTimeout)
	return url, stop
}

// WaitForJetStream polls url until the server accepts connections and JetStream answers.
func WaitForJetStream(tb testing.TB, url string, timeout time.Duration) {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if jetStreamReady(url) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	tb.Fatalf("jetstream did not become ready at %s", url)
}

func jetStreamReady(url string) bool {
	nc, err := nats.Connect(url, nats.Name("stockwatch-testutil"), nats.Timeout(time.Second))
	if err != nil {
		return false
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		return false
	}
	_, err = js.AccountInfo()
	return err == nil
}

func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(natsStopTimeout):
		_ = cmd.Process.Kill()
		<-done
	}
}
