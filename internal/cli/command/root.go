package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/otamesh-go/internal/cli/config"
	"github.com/yndnr/otamesh-go/internal/cli/connection"
	"github.com/yndnr/otamesh-go/internal/cli/output"
	"github.com/yndnr/otamesh-go/internal/infra/buildinfo"
)

const configKey = "cliConfig"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:                 "otamesh-cli",
		Usage:                "OTAMesh release management tool",
		Version:              buildinfo.String(),
		Flags:                globalFlags(),
		Commands:             commands(),
		EnableBashCompletion: true,
		Before:               loadCLIConfig,
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		DimensionCommand(),
		ReleaseCommand(),
		FileCommand(),
		PackageCommand(),
		ResolveCommand(),
		AnalyticsCommand(),
		SystemCommand(),
		ConfigCommand(),
		ShellCommand(),
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Server URL or a name from the servers list (default: default_server)",
			EnvVars: []string{"OTAMESH_SERVER"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml (default: default_output)",
			EnvVars: []string{"OTAMESH_OUTPUT"},
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI settings file",
			EnvVars: []string{"OTAMESH_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
	}
}

func loadCLIConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

// cliConfig returns the settings loaded in Before, or the defaults.
func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[configKey].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Server  string
	Output  string
	Wide    bool
	Timeout time.Duration
}

// ParseGlobalFlags merges the global flags over the CLI settings file.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	cfg := cliConfig(c)
	flags := &GlobalFlags{
		Server:  cfg.ResolveServer(c.String("server")),
		Output:  c.String("output"),
		Wide:    c.Bool("wide"),
		Timeout: c.Duration("timeout"),
	}
	if flags.Server == "" {
		flags.Server = cfg.ResolveServer(cfg.DefaultServer)
	}
	if flags.Output == "" {
		flags.Output = cfg.DefaultOutput
	}
	if flags.Timeout == 0 {
		flags.Timeout, _ = cfg.RequestTimeout()
	}
	return flags
}

func newClient(c *cli.Context) *connection.HTTPClient {
	flags := ParseGlobalFlags(c)
	return connection.NewHTTPClient(flags.Server, flags.Timeout)
}

func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := ParseGlobalFlags(c).Timeout
	if timeout <= 0 {
		timeout = connection.DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// render writes data in the selected output format.
func render(c *cli.Context, data any) error {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format, flags.Wide).Format(c.App.Writer, data)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

// list mirrors the server's collection envelope.
type list[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func requireArg(c *cli.Context, name string) (string, error) {
	v := c.Args().First()
	if v == "" {
		return "", fmt.Errorf("%s required", name)
	}
	return v, nil
}

// parsePairs parses repeated KEY=VALUE flags.
func parsePairs(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(values))
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q, want KEY=VALUE", kv)
		}
		m[k] = v
	}
	return m, nil
}

// decodeJSONArg decodes a flag holding inline JSON or @path to a JSON file.
func decodeJSONArg(s string, dst any) error {
	data := []byte(s)
	if path, ok := strings.CutPrefix(s, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
