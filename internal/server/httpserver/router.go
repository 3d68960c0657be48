package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/otamesh-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler serves the API routes.
	Handler http.Handler

	// Metrics records request metrics. When MetricsPath is set the
	// registry is also exposed there.
	Metrics     *metric.Registry
	MetricsPath string

	// RateLimiter throttles the device API. Nil disables throttling.
	RateLimiter *RateLimiter

	// MaxBodyBytes caps request bodies. Zero means no limit.
	MaxBodyBytes int64

	Logger *slog.Logger
}

// NewRouter wraps the API handler with the middleware chain.
//
// Order: RequestID -> Recover -> Audit -> [RateLimit] -> MaxBody -> Metrics -> Handler
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := cfg.Metrics
	if reg == nil {
		reg = metric.NewRegistry()
	}

	device := []Middleware{RequestID(log), Recover(), Audit()}
	if cfg.RateLimiter != nil {
		device = append(device, cfg.RateLimiter.Middleware())
	}
	device = append(device, MaxBody(cfg.MaxBodyBytes), Metrics(reg))
	admin := []Middleware{RequestID(log), Recover(), Audit(), MaxBody(cfg.MaxBodyBytes), Metrics(reg)}

	mux := http.NewServeMux()
	mux.Handle("/v1/", Chain(cfg.Handler, device...))
	mux.Handle("/", Chain(cfg.Handler, admin...))
	if cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, Chain(reg.Handler(), RequestID(log), Recover()))
	}
	return mux
}
