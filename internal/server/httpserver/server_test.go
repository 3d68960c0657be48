package httpserver

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/otamesh-go/internal/telemetry/logger"
	"github.com/yndnr/otamesh-go/internal/telemetry/metric"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	s := New(Options{ReadTimeout: time.Second}, okHandler())
	if s.TLS() {
		t.Error("TLS() = true without certificate files")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() after shutdown = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestNewRouter(t *testing.T) {
	reg := metric.NewRegistry()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/release-config", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /admin/v1/releases/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router := NewRouter(&RouterConfig{
		Handler:     mux,
		Metrics:     reg,
		MetricsPath: "/metrics",
		RateLimiter: NewRateLimiter(1, 1, 0, reg),
		Logger:      logger.Discard(),
	})

	do := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		return w
	}

	if w := do("/v1/release-config?device_id=a"); w.Code != http.StatusNoContent || w.Header().Get("X-Request-ID") == "" {
		t.Errorf("device route: status = %d, request id = %q", w.Code, w.Header().Get("X-Request-ID"))
	}
	if w := do("/v1/release-config?device_id=a"); w.Code != http.StatusTooManyRequests {
		t.Errorf("device route over limit: status = %d", w.Code)
	}
	// Admin routes are not throttled.
	for i := 0; i < 3; i++ {
		if w := do("/admin/v1/releases/rel-1"); w.Code != http.StatusOK {
			t.Errorf("admin route: status = %d", w.Code)
		}
	}

	w := do("/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`otamesh_http_requests_total{code="204",method="GET",route="/v1/release-config"} 1`,
		`otamesh_http_requests_total{code="200",method="GET",route="/admin/v1/releases/{id}"} 3`,
		`otamesh_http_rate_limited_total{route="/v1/"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}
