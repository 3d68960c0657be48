package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DefaultServer != "http://localhost:5080" {
		t.Errorf("DefaultServer = %q", cfg.DefaultServer)
	}
	if cfg.DefaultOutput != "table" {
		t.Errorf("DefaultOutput = %q", cfg.DefaultOutput)
	}
	if cfg.Servers == nil {
		t.Error("Servers should not be nil")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if !strings.HasSuffix(path, filepath.Join(".otamesh", "cli.yaml")) {
		t.Errorf("DefaultConfigPath() = %q", path)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultOutput != "table" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	content := `
default_server: http://ota.internal:5080
default_output: json
timeout: 5s
servers:
  staging: https://staging.example.com
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultServer != "http://ota.internal:5080" || cfg.DefaultOutput != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if d, _ := cfg.RequestTimeout(); d != 5*time.Second {
		t.Errorf("RequestTimeout() = %v", d)
	}
	if got := cfg.ResolveServer("staging"); got != "https://staging.example.com" {
		t.Errorf("ResolveServer(staging) = %q", got)
	}
	if got := cfg.ResolveServer("localhost:9000"); got != "localhost:9000" {
		t.Errorf("ResolveServer passthrough = %q", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"bad yaml":    "default_server: [",
		"bad timeout": "timeout: soon",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")

	cfg := Default()
	if err := cfg.Set("default_output", "yaml"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.AddServer("prod", "https://ota.example.com"); err != nil {
		t.Fatal(err)
	}
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("permissions = %o, want 600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.DefaultOutput != "yaml" || loaded.Servers["prod"] != "https://ota.example.com" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestCLIConfig_Set(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{"default_server", "http://x:1", false},
		{"default_output", "json", false},
		{"default_output", "xml", true},
		{"timeout", "10s", false},
		{"timeout", "ten", true},
		{"color", "always", true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := Default().Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCLIConfig_AddServer(t *testing.T) {
	cfg := &CLIConfig{}
	for _, bad := range []string{"ota.example.com", "ftp://ota.example.com", "http://"} {
		if err := cfg.AddServer("x", bad); err == nil {
			t.Errorf("AddServer(%q) should fail", bad)
		}
	}
	if err := cfg.AddServer("dev", "http://127.0.0.1:5080"); err != nil || cfg.Servers["dev"] == "" {
		t.Errorf("AddServer() = %v, servers %v", err, cfg.Servers)
	}
}
