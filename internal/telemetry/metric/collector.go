package metric

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CatalogStats is a point-in-time view of the catalog.
type CatalogStats struct {
	Dimensions       int
	ReleasesByStatus map[string]int
	// SnapshotReleases is the number of servable releases in the live
	// resolution snapshot.
	SnapshotReleases int
}

// CatalogSource reads current catalog statistics.
type CatalogSource func(ctx context.Context) (CatalogStats, error)

// Collector reports catalog gauges at scrape time.
type Collector struct {
	source CatalogSource
	logger *slog.Logger

	dimensions       *prometheus.Desc
	releases         *prometheus.Desc
	snapshotReleases *prometheus.Desc
}

// NewCollector creates a catalog collector.
func NewCollector(source CatalogSource, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		source: source,
		logger: logger,
		dimensions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "catalog", "dimensions"),
			"Registered targeting dimensions", nil, nil),
		releases: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "catalog", "releases"),
			"Releases by experiment status", []string{"status"}, nil),
		snapshotReleases: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "resolve", "snapshot_releases"),
			"Servable releases in the live resolution snapshot", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dimensions
	ch <- c.releases
	ch <- c.snapshotReleases
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := c.source(ctx)
	if err != nil {
		c.logger.Warn("catalog stats unavailable", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.dimensions, prometheus.GaugeValue, float64(stats.Dimensions))
	for status, n := range stats.ReleasesByStatus {
		ch <- prometheus.MustNewConstMetric(c.releases, prometheus.GaugeValue, float64(n), status)
	}
	ch <- prometheus.MustNewConstMetric(c.snapshotReleases, prometheus.GaugeValue, float64(stats.SnapshotReleases))
}
