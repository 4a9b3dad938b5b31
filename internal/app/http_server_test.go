package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/delivery/internal/health"
)

// serveOps поднимает сервисный HTTP-сервер на свободном порту и ждёт,
// пока он начнёт отвечать. Возвращает базовый URL и cancel контекста.
func serveOps(t *testing.T, handler *healthcheck.Handler) (string, context.CancelFunc) {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	srv := startMetricsServer(ctx, fmt.Sprintf(":%d", port), log.WithField("test", "http"), handler)
	if srv == nil {
		cancel()
		t.Fatal("startMetricsServer should not return nil")
	}

	base := fmt.Sprintf("http://localhost:%d", port)
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(base + "/livez")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return base, cancel
}

func fetchStatus(t *testing.T, url string) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestOpsServer_ServesMetricsAndHealth(t *testing.T) {
	base, cancel := serveOps(t, healthcheck.NewHandler("test"))
	defer cancel()

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(body) == 0 {
		t.Errorf("/metrics: status=%d bodyLen=%d", resp.StatusCode, len(body))
	}

	for _, path := range []string{"/healthz", "/readyz", "/livez"} {
		if code := fetchStatus(t, base+path); code != http.StatusOK {
			t.Errorf("%s: status=%d, want 200", path, code)
		}
	}
}

func TestOpsServer_StopsOnContextCancel(t *testing.T) {
	base, cancel := serveOps(t, healthcheck.NewHandler("test"))

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := http.Get(base + "/livez"); err != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("server should stop after context cancellation")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestOpsServer_ReportsUnhealthyStorage(t *testing.T) {
	handler := healthcheck.NewHandler("test")
	handler.RegisterChecker("storage", healthcheck.PingChecker("storage", func() error {
		return fmt.Errorf("connection refused")
	}))

	base, cancel := serveOps(t, handler)
	defer cancel()

	if code := fetchStatus(t, base+"/healthz"); code != http.StatusServiceUnavailable {
		t.Errorf("/healthz: status=%d, want 503", code)
	}
	if code := fetchStatus(t, base+"/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz: status=%d, want 503", code)
	}
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}
