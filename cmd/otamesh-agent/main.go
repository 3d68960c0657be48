package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/otamesh-go/internal/client/agent"
	"github.com/yndnr/otamesh-go/internal/infra/buildinfo"
	"github.com/yndnr/otamesh-go/internal/infra/shutdown"
	"github.com/yndnr/otamesh-go/internal/telemetry/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:    "otamesh-agent",
		Usage:   "On-device update agent",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"OTAMESH_AGENT_CONFIG"},
			},
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "Update server URL"},
			&cli.StringFlag{Name: "data-dir", Usage: "State directory"},
			&cli.StringFlag{Name: "device-id", Usage: "Device identity (default: generated once)"},
			&cli.StringSliceFlag{Name: "dimension", Aliases: []string{"d"}, Usage: "Dimension value as key=value (repeatable)"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Check for updates periodically until stopped",
				Action: runAction,
			},
			{
				Name:   "check",
				Usage:  "Run a single update cycle",
				Action: checkAction,
			},
			{
				Name:  "status",
				Usage: "Print the device session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "yaml", Usage: "Output format: yaml, json"},
				},
				Action: statusAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers the command-line flags over file and environment.
func loadConfig(c *cli.Context) (*agent.Config, error) {
	cfg, loader, err := agent.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	overrides := map[string]any{}
	if c.IsSet("server") {
		overrides["server"] = c.String("server")
	}
	if c.IsSet("data-dir") {
		overrides["data_dir"] = c.String("data-dir")
	}
	if c.IsSet("device-id") {
		overrides["device_id"] = c.String("device-id")
	}
	if c.IsSet("log-level") {
		overrides["log.level"] = c.String("log-level")
	}
	for _, kv := range c.StringSlice("dimension") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --dimension %q, want key=value", kv)
		}
		overrides["dimensions."+k] = v
	}
	if len(overrides) > 0 {
		if err := loader.LoadMap(overrides); err != nil {
			return nil, err
		}
		if err := loader.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openAgent(c *cli.Context) (*agent.Agent, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	log := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	return agent.New(c.Context, cfg, log)
}

func runAction(c *cli.Context) error {
	a, err := openAgent(c)
	if err != nil {
		return err
	}
	log := slog.Default()
	log.Info("starting otamesh-agent", "version", buildinfo.Version, "device_id", a.DeviceID())

	h := shutdown.NewHandler(shutdownTimeout, log)
	ctx, cancel := context.WithCancel(c.Context)
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
		// A fatal updater error ends the run like a signal.
		h.Trigger()
	}()

	var runErr error
	h.OnShutdown("agent", func(context.Context) error {
		cancel()
		runErr = <-done
		return a.Close()
	})

	if err := h.Wait(c.Context); err != nil {
		return err
	}
	return runErr
}

func checkAction(c *cli.Context) error {
	a, err := openAgent(c)
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.Check(c.Context)
	fmt.Fprintf(c.App.Writer, "outcome: %s\nstate: %s\n", outcome, a.Status().State)
	return err
}

func statusAction(c *cli.Context) error {
	a, err := openAgent(c)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.Status()
	switch c.String("output") {
	case "json":
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "yaml":
		// Domain types carry only json tags.
		raw, err := json.Marshal(st)
		if err != nil {
			return err
		}
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(c.App.Writer)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown output format %q", c.String("output"))
	}
}
