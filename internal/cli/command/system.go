package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/otamesh-go/internal/cli/connection"
	"github.com/yndnr/otamesh-go/internal/cli/output"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "Server health and maintenance",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check that the server is up",
				Action: systemProbe("/health"),
			},
			{
				Name:   "ready",
				Usage:  "Check that the server is serving releases",
				Action: systemProbe("/ready"),
			},
			{
				Name:  "backup",
				Usage: "Download a compressed backup of the server store",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Destination file, - for stdout (default: otamesh-<time>.kv.zst)",
					},
					&cli.BoolFlag{Name: "no-progress", Usage: "Do not show transfer progress"},
				},
				Action: systemBackup,
			},
		},
	}
}

type healthResponse struct {
	Status           string `json:"status"`
	Version          string `json:"version"`
	Time             string `json:"time"`
	SnapshotReleases int    `json:"snapshot_releases"`
	SnapshotBuiltAt  string `json:"snapshot_built_at,omitempty"`
}

func systemProbe(path string) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel := requestContext(c)
		defer cancel()

		client := newClient(c)
		var result healthResponse
		if err := client.Get(ctx, path, nil, &result); err != nil {
			return err
		}

		flags := ParseGlobalFlags(c)
		if flags.Output != string(output.FormatTable) {
			return render(c, result)
		}
		fmt.Fprintf(c.App.Writer, "Server is %s\n", result.Status)
		fmt.Fprintf(c.App.Writer, "  Target:   %s\n", client.BaseURL())
		fmt.Fprintf(c.App.Writer, "  Version:  %s\n", result.Version)
		fmt.Fprintf(c.App.Writer, "  Releases: %d", result.SnapshotReleases)
		if result.SnapshotBuiltAt != "" {
			fmt.Fprintf(c.App.Writer, " (snapshot %s)", result.SnapshotBuiltAt)
		}
		fmt.Fprintln(c.App.Writer)
		return nil
	}
}

func systemBackup(c *cli.Context) error {
	path := c.String("file")
	if path == "" {
		path = fmt.Sprintf("otamesh-%s.kv.zst", time.Now().UTC().Format("20060102T150405Z"))
	}

	var dst io.Writer = c.App.Writer
	var file *os.File
	if path != "-" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return err
		}
		file, dst = f, f
	}

	var bar *output.ProgressBar
	if path != "-" && !c.Bool("no-progress") && isatty.IsTerminal(os.Stderr.Fd()) {
		bar = output.NewProgressBar(c.App.ErrWriter, "Downloading backup")
		dst = io.MultiWriter(dst, bar)
	}

	// A backup can take far longer than a single API call.
	n, err := connection.NewHTTPClient(ParseGlobalFlags(c).Server, 24*time.Hour).
		Download(c.Context, "/admin/v1/backup", dst)
	if bar != nil {
		bar.Finish()
	}
	if file != nil {
		err = errors.Join(err, file.Close())
		if err != nil {
			os.Remove(path)
			return err
		}
		fmt.Fprintf(c.App.Writer, "Backup written to %s (%s)\n", path, output.FormatBytes(n))
	}
	return err
}
