package config

import (
	"fmt"
	"net/url"
	"time"
)

// CLIConfig is the configuration for otamesh-cli.
type CLIConfig struct {
	DefaultServer string `yaml:"default_server" json:"default_server"`
	DefaultOutput string `yaml:"default_output" json:"default_output"` // table, json, yaml
	Timeout       string `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Servers maps a short name to a server URL.
	Servers map[string]string `yaml:"servers,omitempty" json:"servers,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultServer: "http://localhost:5080",
		DefaultOutput: "table",
		Servers:       make(map[string]string),
	}
}

// ResolveServer returns the URL registered under name, or name itself.
func (c *CLIConfig) ResolveServer(name string) string {
	if u, ok := c.Servers[name]; ok {
		return u
	}
	return name
}

// RequestTimeout parses Timeout. An empty value returns zero.
func (c *CLIConfig) RequestTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("timeout: %w", err)
	}
	return d, nil
}

// Set updates one setting by its file key.
func (c *CLIConfig) Set(key, value string) error {
	switch key {
	case "default_server":
		c.DefaultServer = value
	case "default_output":
		switch value {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("default_output must be table, json or yaml")
		}
		c.DefaultOutput = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		c.Timeout = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// AddServer registers a named server.
func (c *CLIConfig) AddServer(name, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL %q", rawURL)
	}
	if c.Servers == nil {
		c.Servers = make(map[string]string)
	}
	c.Servers[name] = rawURL
	return nil
}
