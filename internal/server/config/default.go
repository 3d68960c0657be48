package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr        = "127.0.0.1:5080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 2 * time.Minute
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = 4 << 20

	DefaultRateLimitRPS     = 5
	DefaultRateLimitBurst   = 20
	DefaultRateLimitIdleTTL = 10 * time.Minute

	DefaultEngine        = "badger"
	DefaultDataDir       = "/var/lib/otamesh-server/data"
	DefaultGCInterval    = 10 * time.Minute
	DefaultGCThreshold   = 0.5
	DefaultBadgerCache   = 64 << 20
	DefaultRefreshPeriod = 30 * time.Second

	DefaultDedupTTL    = 7 * 24 * time.Hour
	DefaultMetricsPath = "/metrics"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:            DefaultHTTPAddr,
				ReadTimeout:     DefaultReadTimeout,
				WriteTimeout:    DefaultWriteTimeout,
				IdleTimeout:     DefaultIdleTimeout,
				ShutdownTimeout: DefaultShutdownTimeout,
				MaxBodyBytes:    DefaultMaxBodyBytes,
			},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultRateLimitRPS,
				Burst:   DefaultRateLimitBurst,
				IdleTTL: DefaultRateLimitIdleTTL,
			},
		},
		Storage: StorageSection{
			Engine:  DefaultEngine,
			DataDir: DefaultDataDir,
			Badger: BadgerSection{
				GCInterval:  DefaultGCInterval,
				GCThreshold: DefaultGCThreshold,
				CacheSize:   DefaultBadgerCache,
				SyncWrites:  true,
			},
		},
		Catalog: CatalogSection{
			RefreshInterval: DefaultRefreshPeriod,
		},
		Analytics: AnalyticsSection{
			DedupTTL: DefaultDedupTTL,
		},
		Metrics: MetricsSection{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
