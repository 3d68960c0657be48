package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/yndnr/otamesh-go/internal/infra/confloader"
	"github.com/yndnr/otamesh-go/internal/storage"
	"github.com/yndnr/otamesh-go/internal/telemetry/logger"
)

// Load reads path (optional) and the environment over the defaults.
func Load(path string) (*ServerConfig, *confloader.Loader, error) {
	cfg := Default()
	loader := confloader.NewLoader(confloader.WithConfigFile(path))
	if err := loader.Load(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// Verify validates the configuration and returns every problem found.
func Verify(cfg *ServerConfig) error {
	var errs []error
	errs = append(errs, verifyServer(&cfg.Server)...)
	errs = append(errs, verifyStorage(&cfg.Storage)...)
	if cfg.Catalog.RefreshInterval <= 0 {
		errs = append(errs, errors.New("catalog.refresh_interval must be positive"))
	}
	if cfg.Analytics.DedupTTL <= 0 {
		errs = append(errs, errors.New("analytics.dedup_ttl must be positive"))
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", cfg.Metrics.Path))
	}
	if !logger.ValidLevel(cfg.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", cfg.Log.Format))
	}
	return errors.Join(errs...)
}

func verifyServer(cfg *ServerSection) []error {
	var errs []error
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.http.addr %q: %w", cfg.HTTP.Addr, err))
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.http.tls_cert_file and tls_key_file must be set together"))
	}
	for _, f := range []string{cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			errs = append(errs, fmt.Errorf("tls file: %w", err))
		}
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.http.max_body_bytes must be positive"))
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst < 1 {
			errs = append(errs, errors.New("server.rate_limit.rps must be positive and burst at least 1"))
		}
	}
	return errs
}

func verifyStorage(cfg *StorageSection) []error {
	switch cfg.Engine {
	case "memory":
		return nil
	case "badger":
	default:
		return []error{fmt.Errorf("storage.engine %q must be badger or memory", cfg.Engine)}
	}

	var errs []error
	if cfg.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	} else if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		errs = append(errs, fmt.Errorf("cannot create data directory: %w", err))
	}
	if cfg.Badger.GCThreshold <= 0 || cfg.Badger.GCThreshold >= 1 {
		errs = append(errs, errors.New("storage.badger.gc_threshold must be between 0 and 1"))
	}
	return errs
}

// KVConfig converts the storage section to the engine configuration.
func (s StorageSection) KVConfig() storage.KVConfig {
	kv := storage.DefaultKVConfig(s.DataDir)
	kv.Engine = s.Engine
	if s.Badger.GCInterval > 0 {
		kv.Badger.GCInterval = s.Badger.GCInterval.String()
	}
	if s.Badger.GCThreshold > 0 {
		kv.Badger.GCThreshold = s.Badger.GCThreshold
	}
	if s.Badger.CacheSize > 0 {
		kv.Badger.CacheSize = s.Badger.CacheSize
	}
	kv.Badger.SyncWrites = s.Badger.SyncWrites
	return kv
}
