package domain

import (
	"fmt"
	"time"
)

// Interval is the granularity of adoption time series.
type Interval string

const (
	IntervalHour Interval = "hour"
	IntervalDay  Interval = "day"
)

// Intervals lists every interval counters are maintained at.
var Intervals = []Interval{IntervalHour, IntervalDay}

// ParseInterval parses "hour" or "day".
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case IntervalHour, IntervalDay:
		return Interval(s), nil
	case "":
		return IntervalHour, nil
	}
	return "", ErrInvalidArgument.WithDetailsf("unknown interval %q", s)
}

// Duration returns the bucket width.
func (i Interval) Duration() time.Duration {
	if i == IntervalDay {
		return 24 * time.Hour
	}
	return time.Hour
}

// BucketStart truncates t to the start of its UTC bucket.
func (i Interval) BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(i.Duration())
}

// AllReleases is the pseudo release id under which every event is counted.
const AllReleases = "_all"

// Counter names used by storage.
const (
	CounterUpdateChecks        = "update_checks"
	CounterUpdateAvailable     = "update_available"
	CounterDownloadSuccess     = "download_success"
	CounterDownloadFailures    = "download_failures"
	CounterApplySuccess        = "apply_success"
	CounterApplyFailures       = "apply_failures"
	CounterBootConfirmed       = "boot_confirmed"
	CounterRollbacksInitiated  = "rollbacks_initiated"
	CounterRollbacksCompleted  = "rollbacks_completed"
	CounterRollbackFailures    = "rollback_failures"
	CounterConfigFetchTimeouts = "config_fetch_timeouts"
)

var eventCounters = map[EventType]string{
	EventUpdateCheck:        CounterUpdateChecks,
	EventUpdateAvailable:    CounterUpdateAvailable,
	EventDownloadCompleted:  CounterDownloadSuccess,
	EventDownloadFailed:     CounterDownloadFailures,
	EventApplySuccess:       CounterApplySuccess,
	EventApplyFailure:       CounterApplyFailures,
	EventBootConfirmed:      CounterBootConfirmed,
	EventRollbackInitiated:  CounterRollbacksInitiated,
	EventRollbackCompleted:  CounterRollbacksCompleted,
	EventRollbackFailed:     CounterRollbackFailures,
	EventConfigFetchTimeout: CounterConfigFetchTimeouts,
}

// CounterFor returns the counter an event type increments, if any.
func CounterFor(t EventType) (string, bool) {
	name, ok := eventCounters[t]
	return name, ok
}

// AdoptionCounters are the per-bucket totals of one release.
type AdoptionCounters struct {
	UpdateChecks        uint64 `json:"update_checks"`
	UpdateAvailable     uint64 `json:"update_available"`
	DownloadSuccess     uint64 `json:"download_success"`
	DownloadFailures    uint64 `json:"download_failures"`
	ApplySuccess        uint64 `json:"apply_success"`
	ApplyFailures       uint64 `json:"apply_failures"`
	BootConfirmed       uint64 `json:"boot_confirmed"`
	RollbacksInitiated  uint64 `json:"rollbacks_initiated"`
	RollbacksCompleted  uint64 `json:"rollbacks_completed"`
	RollbackFailures    uint64 `json:"rollback_failures"`
	ConfigFetchTimeouts uint64 `json:"config_fetch_timeouts"`
}

// Add increments the named counter.
func (c *AdoptionCounters) Add(name string, delta uint64) error {
	switch name {
	case CounterUpdateChecks:
		c.UpdateChecks += delta
	case CounterUpdateAvailable:
		c.UpdateAvailable += delta
	case CounterDownloadSuccess:
		c.DownloadSuccess += delta
	case CounterDownloadFailures:
		c.DownloadFailures += delta
	case CounterApplySuccess:
		c.ApplySuccess += delta
	case CounterApplyFailures:
		c.ApplyFailures += delta
	case CounterBootConfirmed:
		c.BootConfirmed += delta
	case CounterRollbacksInitiated:
		c.RollbacksInitiated += delta
	case CounterRollbacksCompleted:
		c.RollbacksCompleted += delta
	case CounterRollbackFailures:
		c.RollbackFailures += delta
	case CounterConfigFetchTimeouts:
		c.ConfigFetchTimeouts += delta
	default:
		return fmt.Errorf("unknown counter %q", name)
	}
	return nil
}

// Merge adds every counter of o into c.
func (c *AdoptionCounters) Merge(o AdoptionCounters) {
	c.UpdateChecks += o.UpdateChecks
	c.UpdateAvailable += o.UpdateAvailable
	c.DownloadSuccess += o.DownloadSuccess
	c.DownloadFailures += o.DownloadFailures
	c.ApplySuccess += o.ApplySuccess
	c.ApplyFailures += o.ApplyFailures
	c.BootConfirmed += o.BootConfirmed
	c.RollbacksInitiated += o.RollbacksInitiated
	c.RollbacksCompleted += o.RollbacksCompleted
	c.RollbackFailures += o.RollbackFailures
	c.ConfigFetchTimeouts += o.ConfigFetchTimeouts
}

// SuccessRate is apply_success / (apply_success + apply_failures).
func (c AdoptionCounters) SuccessRate() float64 {
	return ratio(c.ApplySuccess, c.ApplySuccess+c.ApplyFailures)
}

// DownloadSuccessRate is download_success / (download_success + download_failures).
func (c AdoptionCounters) DownloadSuccessRate() float64 {
	return ratio(c.DownloadSuccess, c.DownloadSuccess+c.DownloadFailures)
}

// RollbackRate is rollbacks_initiated / apply_success.
func (c AdoptionCounters) RollbackRate() float64 {
	return ratio(c.RollbacksInitiated, c.ApplySuccess)
}

func ratio(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// CounterIncrement is one counter bump inside a time bucket.
type CounterIncrement struct {
	ReleaseID string
	Interval  Interval
	Bucket    time.Time
	Counter   string
	Delta     uint64
}

// CounterBucket is the stored totals of one time bucket.
type CounterBucket struct {
	Bucket   time.Time        `json:"bucket"`
	Counters AdoptionCounters `json:"counters"`
}
