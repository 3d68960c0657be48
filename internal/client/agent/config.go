package agent

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/yndnr/otamesh-go/internal/infra/confloader"
	"github.com/yndnr/otamesh-go/internal/telemetry/logger"
)

// EnvPrefix is the environment prefix of agent settings.
const EnvPrefix = "OTAMESH_AGENT_"

// Config is the agent configuration.
type Config struct {
	// Server is the base URL of the update server.
	Server string `koanf:"server"`

	// TLSCAFile is a PEM bundle trusted in addition to the system roots,
	// for servers signed by a private CA.
	TLSCAFile string `koanf:"tls_ca_file"`

	// DeviceID identifies the device. Empty means a random ID generated
	// once and kept in the data directory.
	DeviceID string `koanf:"device_id"`

	// DataDir holds the session store and the workspace.
	DataDir string `koanf:"data_dir"`

	// Dimensions are the values sent with every check, e.g. region.
	Dimensions map[string]string `koanf:"dimensions"`

	CheckInterval time.Duration `koanf:"check_interval"`
	FlushInterval time.Duration `koanf:"flush_interval"`

	// Concurrency bounds parallel downloads.
	Concurrency int `koanf:"concurrency"`

	// EventBuffer bounds the events held between flushes.
	EventBuffer int `koanf:"event_buffer"`

	// SyncWrites fsyncs every session write.
	SyncWrites bool `koanf:"sync_writes"`

	Log LogConfig `koanf:"log"`
}

// LogConfig configures agent logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:        "http://127.0.0.1:5080",
		DataDir:       "/var/lib/otamesh-agent",
		Dimensions:    map[string]string{},
		CheckInterval: 15 * time.Minute,
		FlushInterval: time.Minute,
		Concurrency:   4,
		EventBuffer:   2048,
		SyncWrites:    true,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads path (optional) and OTAMESH_AGENT_* variables over the
// defaults.
func LoadConfig(path string) (*Config, *confloader.Loader, error) {
	cfg := DefaultConfig()
	loader := confloader.NewLoader(
		confloader.WithEnvPrefix(EnvPrefix),
		confloader.WithConfigFile(path),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// Verify validates the configuration and returns every problem found.
func (c *Config) Verify() error {
	var errs []error
	if u, err := url.Parse(c.Server); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("server %q is not a URL", c.Server))
	}
	if c.TLSCAFile != "" {
		if _, err := os.Stat(c.TLSCAFile); err != nil {
			errs = append(errs, fmt.Errorf("tls_ca_file: %w", err))
		}
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.CheckInterval < time.Second {
		errs = append(errs, errors.New("check_interval must be at least 1s"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush_interval must be positive"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}
	for k := range c.Dimensions {
		if k == "device_id" || strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Errorf("dimension key %q is reserved", k))
		}
	}
	if !logger.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}
