package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/otamesh-go/internal/cli/repl"
)

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:   "shell",
		Usage:  "Run commands interactively",
		Action: shell,
	}
}

func shell(c *cli.Context) error {
	// Global flags given to the shell apply to every line.
	var base []string
	for _, name := range []string{"server", "output", "config"} {
		if c.IsSet(name) {
			base = append(base, "--"+name, c.String(name))
		}
	}
	if c.Bool("wide") {
		base = append(base, "--wide")
	}
	if c.IsSet("timeout") {
		base = append(base, "--timeout", c.Duration("timeout").String())
	}

	exec := func(ctx context.Context, args []string) error {
		if args[0] == "shell" {
			return fmt.Errorf("already in a shell")
		}
		app := App()
		app.Writer = c.App.Writer
		app.ErrWriter = c.App.ErrWriter
		return app.RunContext(ctx, append(append([]string{c.App.Name}, base...), args...))
	}

	var paths []string
	walkCommands("", commands(), &paths)
	paths = append(paths, "help")

	fmt.Fprintf(c.App.Writer, "Connected to %s. Type \"help\" for commands, \"exit\" to leave.\n", ParseGlobalFlags(c).Server)
	return repl.New(exec, repl.WithCompleter(repl.NewCompleter(paths...))).Run(c.Context)
}

func walkCommands(prefix string, cmds []*cli.Command, out *[]string) {
	for _, cmd := range cmds {
		path := strings.TrimSpace(prefix + " " + cmd.Name)
		*out = append(*out, path)
		for _, alias := range cmd.Aliases {
			*out = append(*out, strings.TrimSpace(prefix+" "+alias))
		}
		walkCommands(path, cmd.Subcommands, out)
	}
}
