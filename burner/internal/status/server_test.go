package status_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/status"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	t.Setenv("GPUBURN_TEST_STATUS_KEY", "k3y")
	cfg := config.StatusConfig{
		Listen:   "127.0.0.1:0",
		Interval: testInterval,
		Auth:     config.AuthConfig{Mode: "apikey", KeyEnv: "GPUBURN_TEST_STATUS_KEY"},
	}
	srv := status.NewServer(cfg, newStore(runSnapshot()), nil, promhttp.Handler())

	lis, err := srv.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	base := "http://" + lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	do := func(path, key string) (int, string) {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, base+path, nil)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	if code, _ := do("/api/v1/status", ""); code != http.StatusUnauthorized {
		t.Errorf("no key: got %d, want 401", code)
	}
	if code, body := do("/api/v1/status", "k3y"); code != http.StatusOK || !strings.Contains(body, "run-42") {
		t.Errorf("status: got %d %s", code, body)
	}
	if code, body := do("/metrics", "k3y"); code != http.StatusOK || !strings.Contains(body, "go_goroutines") {
		t.Errorf("metrics: got %d", code)
	}

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws/stream"
	conn := dial(t, wsURL, http.Header{"X-API-Key": []string{"k3y"}})
	if m := readMessage(t, conn); m.Data.Status.RunID != "run-42" {
		t.Errorf("stream run_id: got %q", m.Data.Status.RunID)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
