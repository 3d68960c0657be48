package command

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/otamesh-go/internal/cli/output"
	"github.com/yndnr/otamesh-go/internal/core/domain"
)

const dimensionsPath = "/admin/v1/dimensions"

// DimensionCommand returns the dimension subcommand group.
func DimensionCommand() *cli.Command {
	return &cli.Command{
		Name:    "dimension",
		Aliases: []string{"dim"},
		Usage:   "Manage targeting dimensions",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List dimensions in priority order",
				Action: dimensionListAction,
			},
			{
				Name:      "get",
				Usage:     "Show a dimension",
				ArgsUsage: "KEY",
				Action:    dimensionGet,
			},
			{
				Name:      "create",
				Usage:     "Register a dimension",
				ArgsUsage: "KEY",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "priority", Usage: "Priority, 1 is highest (default: append)"},
					&cli.StringFlag{Name: "kind", Value: string(domain.DimensionStandard), Usage: "standard or cohort"},
					&cli.StringFlag{Name: "depends-on", Usage: "Base dimension of a cohort dimension"},
					&cli.BoolFlag{Name: "mandatory", Usage: "Reject requests that omit this dimension"},
					&cli.StringFlag{Name: "description", Usage: "Free-form description"},
					&cli.StringFlag{Name: "schema", Usage: "Value schema as JSON or @file"},
					&cli.StringFlag{Name: "cohorts", Usage: "Cohort list as JSON or @file"},
				},
				Action: dimensionCreate,
			},
			{
				Name:      "reorder",
				Usage:     "Move a dimension to a new priority",
				ArgsUsage: "KEY",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "priority", Required: true, Usage: "New priority, 1 is highest"},
				},
				Action: dimensionReorder,
			},
			{
				Name:      "cohorts",
				Usage:     "Replace the cohorts of a cohort dimension",
				ArgsUsage: "KEY",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "cohorts", Required: true, Usage: "Cohort list as JSON or @file"},
				},
				Action: dimensionCohorts,
			},
			{
				Name:      "remove",
				Usage:     "Remove a dimension no live release filters on",
				ArgsUsage: "KEY",
				Action:    dimensionRemove,
			},
		},
	}
}

type dimensionList []*domain.Dimension

func (ds dimensionList) Table(wide bool) *output.Table {
	t := output.NewTable("PRIORITY", "KEY", "KIND", "MANDATORY")
	if wide {
		t.Headers = append(t.Headers, "DEPENDS ON", "COHORTS", "DESCRIPTION")
	}
	for _, d := range ds {
		row := []string{strconv.Itoa(d.Priority), d.Key, string(d.Kind), strconv.FormatBool(d.Mandatory)}
		if wide {
			row = append(row, output.Value(d.DependsOn), strconv.Itoa(len(d.Cohorts)), output.Value(d.Description))
		}
		t.AddRow(row...)
	}
	return t
}

func dimensionListAction(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var result list[*domain.Dimension]
	if err := newClient(c).Get(ctx, dimensionsPath, nil, &result); err != nil {
		return err
	}
	return render(c, dimensionList(result.Items))
}

func dimensionGet(c *cli.Context) error {
	key, err := requireArg(c, "dimension key")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var d domain.Dimension
	if err := newClient(c).Get(ctx, dimensionsPath+"/"+key, nil, &d); err != nil {
		return err
	}
	return render(c, &d)
}

func dimensionCreate(c *cli.Context) error {
	key, err := requireArg(c, "dimension key")
	if err != nil {
		return err
	}

	body := map[string]any{
		"key":       key,
		"priority":  c.Int("priority"),
		"kind":      c.String("kind"),
		"mandatory": c.Bool("mandatory"),
	}
	if v := c.String("depends-on"); v != "" {
		body["depends_on"] = v
	}
	if v := c.String("description"); v != "" {
		body["description"] = v
	}
	if v := c.String("schema"); v != "" {
		var schema domain.DimensionSchema
		if err := decodeJSONArg(v, &schema); err != nil {
			return fmt.Errorf("--schema: %w", err)
		}
		body["schema"] = schema
	}
	if v := c.String("cohorts"); v != "" {
		var cohorts []domain.Cohort
		if err := decodeJSONArg(v, &cohorts); err != nil {
			return fmt.Errorf("--cohorts: %w", err)
		}
		body["cohorts"] = cohorts
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var d domain.Dimension
	if err := newClient(c).Post(ctx, dimensionsPath, body, &d); err != nil {
		return err
	}
	return render(c, &d)
}

func dimensionReorder(c *cli.Context) error {
	key, err := requireArg(c, "dimension key")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var d domain.Dimension
	body := map[string]int{"priority": c.Int("priority")}
	if err := newClient(c).Post(ctx, dimensionsPath+"/"+key+"/reorder", body, &d); err != nil {
		return err
	}
	return render(c, &d)
}

func dimensionCohorts(c *cli.Context) error {
	key, err := requireArg(c, "dimension key")
	if err != nil {
		return err
	}
	var cohorts []domain.Cohort
	if err := decodeJSONArg(c.String("cohorts"), &cohorts); err != nil {
		return fmt.Errorf("--cohorts: %w", err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var d domain.Dimension
	body := map[string]any{"cohorts": cohorts}
	if err := newClient(c).Post(ctx, dimensionsPath+"/"+key+"/cohorts", body, &d); err != nil {
		return err
	}
	return render(c, &d)
}

func dimensionRemove(c *cli.Context) error {
	key, err := requireArg(c, "dimension key")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var result map[string]string
	if err := newClient(c).Post(ctx, dimensionsPath+"/"+key+"/remove", nil, &result); err != nil {
		return err
	}
	return render(c, result)
}
