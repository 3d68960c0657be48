package command

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/otamesh-go/internal/cli/output"
	"github.com/yndnr/otamesh-go/internal/core/domain"
)

const releasesPath = "/admin/v1/releases"

// ReleaseCommand returns the release subcommand group.
func ReleaseCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "release",
		Aliases: []string{"rel"},
		Usage:   "Manage releases and rollouts",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List releases",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Filter by status: created, active, paused, completed, rolled_back"},
				},
				Action: releaseListAction,
			},
			{
				Name:      "get",
				Usage:     "Show a release",
				ArgsUsage: "RELEASE_ID",
				Action:    releaseGet,
			},
			{
				Name:  "create",
				Usage: "Create a release of a package version",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "package", Aliases: []string{"p"}, Required: true, Usage: "Package version"},
					&cli.StringSliceFlag{Name: "filter", Aliases: []string{"f"}, Usage: "Dimension filter as KEY=VALUE (repeatable)"},
					&cli.IntFlag{Name: "rollout", Value: 100, Usage: "Rollout percentage 0-100"},
					&cli.StringFlag{Name: "name", Usage: "Display name"},
					&cli.DurationFlag{Name: "config-timeout", Usage: "Client release-config fetch timeout"},
					&cli.DurationFlag{Name: "boot-timeout", Usage: "Client boot confirmation timeout"},
					&cli.StringFlag{Name: "properties", Usage: "Release properties as JSON or @file"},
					&cli.StringSliceFlag{Name: "resource", Usage: "Extra file key to ship (repeatable)"},
				},
				Action: releaseCreate,
			},
			{
				Name:      "ramp",
				Usage:     "Change the rollout percentage",
				ArgsUsage: "RELEASE_ID",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "percent", Required: true, Usage: "Rollout percentage 0-100"},
				},
				Action: releaseRamp,
			},
		},
	}

	for _, a := range []struct{ name, usage string }{
		{"publish", "Start serving a created release"},
		{"pause", "Stop serving an active release"},
		{"resume", "Serve a paused release again"},
		{"conclude", "Mark a release completed"},
		{"rollback", "Withdraw a release from every device"},
	} {
		cmd.Subcommands = append(cmd.Subcommands, &cli.Command{
			Name:      a.name,
			Usage:     a.usage,
			ArgsUsage: "RELEASE_ID",
			Action:    releaseAction(a.name),
		})
	}
	return cmd
}

type releaseList []*domain.Release

func (rs releaseList) Table(wide bool) *output.Table {
	t := output.NewTable("ID", "STATUS", "PACKAGE", "ROLLOUT", "FILTER")
	if wide {
		t.Headers = append(t.Headers, "NAME", "VERSION", "UPDATED")
	}
	for _, r := range rs {
		row := []string{
			r.ID,
			string(r.Experiment.Status),
			strconv.Itoa(r.PackageVersion),
			strconv.Itoa(r.Experiment.RolloutPercentage) + "%",
			output.Pairs(r.DimensionFilter),
		}
		if wide {
			row = append(row, output.Value(r.Name), output.Value(r.Config.Version), output.Millis(r.UpdatedAt))
		}
		t.AddRow(row...)
	}
	return t
}

func releaseListAction(c *cli.Context) error {
	query := url.Values{}
	if s := c.String("status"); s != "" {
		query.Set("status", s)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var result list[*domain.Release]
	if err := newClient(c).Get(ctx, releasesPath, query, &result); err != nil {
		return err
	}
	return render(c, releaseList(result.Items))
}

func releaseGet(c *cli.Context) error {
	id, err := requireArg(c, "release ID")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var r domain.Release
	if err := newClient(c).Get(ctx, releasesPath+"/"+id, nil, &r); err != nil {
		return err
	}
	return render(c, &r)
}

func releaseCreate(c *cli.Context) error {
	filter, err := parsePairs(c.StringSlice("filter"))
	if err != nil {
		return fmt.Errorf("--filter: %w", err)
	}

	body := map[string]any{
		"package_version":    c.Int("package"),
		"rollout_percentage": c.Int("rollout"),
	}
	if filter != nil {
		body["dimension_filter"] = filter
	}
	if v := c.String("name"); v != "" {
		body["name"] = v
	}
	if d := c.Duration("config-timeout"); d > 0 {
		body["release_config_timeout"] = d.Milliseconds()
	}
	if d := c.Duration("boot-timeout"); d > 0 {
		body["boot_timeout"] = d.Milliseconds()
	}
	if v := c.String("properties"); v != "" {
		var props map[string]any
		if err := decodeJSONArg(v, &props); err != nil {
			return fmt.Errorf("--properties: %w", err)
		}
		body["properties"] = props
	}
	if res := c.StringSlice("resource"); len(res) > 0 {
		body["resources"] = res
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var r domain.Release
	if err := newClient(c).Post(ctx, releasesPath, body, &r); err != nil {
		return err
	}
	return render(c, &r)
}

func releaseRamp(c *cli.Context) error {
	id, err := requireArg(c, "release ID")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var r domain.Release
	body := map[string]int{"rollout_percentage": c.Int("percent")}
	if err := newClient(c).Post(ctx, releasesPath+"/"+id+"/ramp", body, &r); err != nil {
		return err
	}
	return render(c, releaseList{&r})
}

func releaseAction(action string) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := requireArg(c, "release ID")
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(c)
		defer cancel()

		var r domain.Release
		if err := newClient(c).Post(ctx, releasesPath+"/"+id+"/"+action, nil, &r); err != nil {
			return err
		}
		return render(c, releaseList{&r})
	}
}
