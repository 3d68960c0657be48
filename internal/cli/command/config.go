package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/otamesh-go/internal/cli/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Local CLI settings",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the CLI settings",
				Action: configShow,
			},
			{
				Name:      "set",
				Usage:     "Change a setting: default_server, default_output or timeout",
				ArgsUsage: "KEY VALUE",
				Action:    configSet,
			},
			{
				Name:      "add-server",
				Usage:     "Register a named server usable with --server",
				ArgsUsage: "NAME URL",
				Action:    configAddServer,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg := cliConfig(c)
	view := struct {
		Path string `json:"path"`
		*config.CLIConfig
	}{c.String("config"), cfg}
	return render(c, view)
}

func configSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: config set KEY VALUE")
	}
	cfg := cliConfig(c)
	if err := cfg.Set(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return err
	}
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s = %s\n", c.Args().Get(0), c.Args().Get(1))
	return nil
}

func configAddServer(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: config add-server NAME URL")
	}
	cfg := cliConfig(c)
	if err := cfg.AddServer(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return err
	}
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "server %s added\n", c.Args().Get(0))
	return nil
}
