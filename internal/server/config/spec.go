package config

import "time"

// ServerConfig is the root configuration for otamesh-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Storage   StorageSection   `koanf:"storage"`
	Catalog   CatalogSection   `koanf:"catalog"`
	Analytics AnalyticsSection `koanf:"analytics"`
	Metrics   MetricsSection   `koanf:"metrics"`
	Log       LogSection       `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP      HTTPConfig      `koanf:"http"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	TLSCertFile     string        `koanf:"tls_cert_file"`
	TLSKeyFile      string        `koanf:"tls_key_file"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// MaxBodyBytes bounds request bodies (event batches, catalog writes).
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// RateLimitConfig throttles device endpoints per client IP.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
	// IdleTTL evicts limiters of clients that stopped calling.
	IdleTTL time.Duration `koanf:"idle_ttl"`
}

// StorageSection configures the embedded KV engine.
type StorageSection struct {
	// Engine is "badger" or "memory".
	Engine  string        `koanf:"engine"`
	DataDir string        `koanf:"data_dir"`
	Badger  BadgerSection `koanf:"badger"`
}

// BadgerSection tunes badger.
type BadgerSection struct {
	GCInterval  time.Duration `koanf:"gc_interval"`
	GCThreshold float64       `koanf:"gc_threshold"`
	CacheSize   int64         `koanf:"cache_size"`
	SyncWrites  bool          `koanf:"sync_writes"`
}

// CatalogSection configures the resolution snapshot.
type CatalogSection struct {
	// RefreshInterval rebuilds the snapshot even without mutations, so
	// writes made by another process sharing the store become visible.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// AnalyticsSection configures telemetry ingestion.
type AnalyticsSection struct {
	DedupTTL time.Duration `koanf:"dedup_ttl"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
