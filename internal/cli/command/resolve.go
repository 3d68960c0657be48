package command

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/otamesh-go/internal/cli/output"
	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// ResolveCommand returns the resolve command.
func ResolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Preview which release a device would receive",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Required: true, Usage: "Device ID"},
			&cli.StringSliceFlag{Name: "context", Aliases: []string{"c"}, Usage: "Dimension value as KEY=VALUE (repeatable)"},
		},
		Action: resolvePreview,
	}
}

// AnalyticsCommand returns the analytics subcommand group.
func AnalyticsCommand() *cli.Command {
	return &cli.Command{
		Name:  "analytics",
		Usage: "Release adoption reports",
		Subcommands: []*cli.Command{
			{
				Name:      "adoption",
				Usage:     "Show adoption counters of a release",
				ArgsUsage: "RELEASE_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "interval", Value: "day", Usage: "Bucket size: hour or day"},
					&cli.TimestampFlag{Name: "from", Layout: time.RFC3339, Usage: "Start time (RFC 3339)"},
					&cli.TimestampFlag{Name: "to", Layout: time.RFC3339, Usage: "End time (RFC 3339)"},
					&cli.DurationFlag{Name: "since", Usage: "Start time relative to now, e.g. 72h"},
				},
				Action: analyticsAdoption,
			},
		},
	}
}

// preview mirrors the resolve preview response.
type preview struct {
	Matched        bool                  `json:"matched"`
	ReleaseID      string                `json:"release_id,omitempty"`
	PackageVersion int                   `json:"package_version,omitempty"`
	Specificity    int                   `json:"specificity"`
	Bucket         int                   `json:"bucket"`
	Skipped        int                   `json:"skipped"`
	Config         *domain.ReleaseConfig `json:"config,omitempty"`
}

func (p *preview) Table(wide bool) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("matched", strconv.FormatBool(p.Matched))
	if p.Matched {
		t.AddRow("release", p.ReleaseID)
		t.AddRow("package", strconv.Itoa(p.PackageVersion))
		t.AddRow("specificity", strconv.Itoa(p.Specificity))
	}
	t.AddRow("bucket", strconv.Itoa(p.Bucket))
	t.AddRow("skipped", strconv.Itoa(p.Skipped))
	if wide && p.Config != nil {
		t.AddRow("config_version", p.Config.Version)
		t.AddRow("index", output.Value(p.Config.Package.Index.URL))
	}
	return t
}

func resolvePreview(c *cli.Context) error {
	dims, err := parsePairs(c.StringSlice("context"))
	if err != nil {
		return fmt.Errorf("--context: %w", err)
	}
	if dims == nil {
		dims = map[string]string{}
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	var p preview
	body := map[string]any{"device_id": c.String("device"), "context": dims}
	if err := newClient(c).Post(ctx, "/admin/v1/resolve/preview", body, &p); err != nil {
		return err
	}
	return render(c, &p)
}

// adoptionReport mirrors the adoption response.
type adoptionReport struct {
	ReleaseID           string                  `json:"release_id"`
	Interval            domain.Interval         `json:"interval"`
	From                time.Time               `json:"from"`
	To                  time.Time               `json:"to"`
	Buckets             []domain.CounterBucket  `json:"buckets"`
	Totals              domain.AdoptionCounters `json:"totals"`
	SuccessRate         float64                 `json:"success_rate"`
	DownloadSuccessRate float64                 `json:"download_success_rate"`
	RollbackRate        float64                 `json:"rollback_rate"`
}

func (a *adoptionReport) Table(wide bool) *output.Table {
	t := output.NewTable("BUCKET", "CHECKS", "AVAILABLE", "DOWNLOADED", "APPLIED", "CONFIRMED", "ROLLBACKS")
	if wide {
		t.Headers = append(t.Headers, "DL FAILED", "APPLY FAILED", "TIMEOUTS")
	}
	row := func(label string, n domain.AdoptionCounters) {
		cells := []string{
			label,
			strconv.FormatUint(n.UpdateChecks, 10),
			strconv.FormatUint(n.UpdateAvailable, 10),
			strconv.FormatUint(n.DownloadSuccess, 10),
			strconv.FormatUint(n.ApplySuccess, 10),
			strconv.FormatUint(n.BootConfirmed, 10),
			strconv.FormatUint(n.RollbacksInitiated, 10),
		}
		if wide {
			cells = append(cells,
				strconv.FormatUint(n.DownloadFailures, 10),
				strconv.FormatUint(n.ApplyFailures, 10),
				strconv.FormatUint(n.ConfigFetchTimeouts, 10))
		}
		t.AddRow(cells...)
	}

	layout := "2006-01-02"
	if a.Interval == domain.IntervalHour {
		layout = "2006-01-02 15:00"
	}
	for _, b := range a.Buckets {
		row(b.Bucket.UTC().Format(layout), b.Counters)
	}
	row("TOTAL", a.Totals)
	t.AddRow()
	t.AddRow(fmt.Sprintf("success %.1f%%  download %.1f%%  rollback %.1f%%",
		a.SuccessRate*100, a.DownloadSuccessRate*100, a.RollbackRate*100))
	return t
}

func analyticsAdoption(c *cli.Context) error {
	id, err := requireArg(c, "release ID")
	if err != nil {
		return err
	}
	query := url.Values{"release_id": {id}, "interval": {c.String("interval")}}
	if from := c.Timestamp("from"); from != nil {
		query.Set("from", from.UTC().Format(time.RFC3339))
	} else if since := c.Duration("since"); since > 0 {
		query.Set("from", time.Now().Add(-since).UTC().Format(time.RFC3339))
	}
	if to := c.Timestamp("to"); to != nil {
		query.Set("to", to.UTC().Format(time.RFC3339))
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var report adoptionReport
	if err := newClient(c).Get(ctx, "/admin/v1/analytics/adoption", query, &report); err != nil {
		return err
	}
	return render(c, &report)
}
