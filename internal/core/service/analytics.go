package service

import (
	"context"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// Ingestion limits.
const (
	MaxEventBatch = 500

	// DefaultDedupTTL is how long an event idempotency key is remembered.
	DefaultDedupTTL = 7 * 24 * time.Hour

	// maxAdoptionBuckets bounds the width of an adoption query.
	maxAdoptionBuckets = 24 * 92
)

// AnalyticsRepository stores deduplicated counters. RecordEvent must commit
// the dedup marker and the increments together.
type AnalyticsRepository interface {
	RecordEvent(ctx context.Context, dedupKey string, ttl time.Duration, incs []domain.CounterIncrement) (bool, error)
	QueryCounters(ctx context.Context, releaseID string, interval domain.Interval, from, to time.Time) ([]domain.CounterBucket, error)
}

// AnalyticsService aggregates client telemetry into adoption counters.
type AnalyticsService struct {
	repo     AnalyticsRepository
	dedupTTL time.Duration
	now      func() time.Time
}

// NewAnalyticsService creates a new AnalyticsService. A non-positive
// dedupTTL selects DefaultDedupTTL.
func NewAnalyticsService(repo AnalyticsRepository, dedupTTL time.Duration) *AnalyticsService {
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	return &AnalyticsService{repo: repo, dedupTTL: dedupTTL, now: time.Now}
}

// ============================================================================
// Ingest
// ============================================================================

// IngestResult summarises an ingested batch.
type IngestResult struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

// Ingest records a batch of events. The whole batch is validated before
// anything is written. Replayed events are counted as duplicates and leave
// the counters untouched.
func (s *AnalyticsService) Ingest(ctx context.Context, events []*domain.Event) (*IngestResult, error) {
	// 1. Validate
	if len(events) == 0 {
		return nil, domain.ErrEventValidation.WithDetails("events must not be empty")
	}
	if len(events) > MaxEventBatch {
		return nil, domain.ErrEventValidation.WithDetailsf("batch of %d events exceeds %d", len(events), MaxEventBatch)
	}
	for i, ev := range events {
		if ev == nil {
			return nil, domain.ErrEventValidation.WithDetailsf("event %d is null", i)
		}
		if err := ev.Validate(); err != nil {
			return nil, domain.ErrEventValidation.WithDetailsf("event %d: %s", i, err.(*domain.DomainError).Details)
		}
	}

	// 2. Record each event with its counter increments
	result := &IngestResult{}
	for _, ev := range events {
		recorded, err := s.repo.RecordEvent(ctx, ev.DedupKey(), s.dedupTTL, Increments(ev))
		if err != nil {
			return result, storageError(err)
		}
		if recorded {
			result.Accepted++
		} else {
			result.Duplicates++
		}
	}
	return result, nil
}

// Increments returns the counter bumps an event causes: one per interval,
// under its release and under domain.AllReleases. Buckets follow the event
// timestamp, not the arrival time.
func Increments(ev *domain.Event) []domain.CounterIncrement {
	counter, ok := domain.CounterFor(ev.Type)
	if !ok {
		return nil
	}

	releases := []string{domain.AllReleases}
	if ev.ReleaseID != "" && ev.ReleaseID != domain.AllReleases {
		releases = append(releases, ev.ReleaseID)
	}

	at := ev.Time()
	incs := make([]domain.CounterIncrement, 0, len(releases)*len(domain.Intervals))
	for _, rel := range releases {
		for _, iv := range domain.Intervals {
			incs = append(incs, domain.CounterIncrement{
				ReleaseID: rel,
				Interval:  iv,
				Bucket:    iv.BucketStart(at),
				Counter:   counter,
				Delta:     1,
			})
		}
	}
	return incs
}

// ============================================================================
// Adoption
// ============================================================================

// AdoptionRequest selects an adoption time series. Zero From/To default to
// the seven days before now. An empty ReleaseID selects all releases.
type AdoptionRequest struct {
	ReleaseID string
	Interval  domain.Interval
	From      time.Time
	To        time.Time
}

// AdoptionReport is a time series with totals and derived rates.
type AdoptionReport struct {
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

// Adoption returns the counters of a release between req.From and req.To.
func (s *AnalyticsService) Adoption(ctx context.Context, req *AdoptionRequest) (*AdoptionReport, error) {
	interval := req.Interval
	if interval == "" {
		interval = domain.IntervalHour
	}
	if _, err := domain.ParseInterval(string(interval)); err != nil {
		return nil, err
	}
	releaseID := req.ReleaseID
	if releaseID == "" {
		releaseID = domain.AllReleases
	}

	to := req.To
	if to.IsZero() {
		to = s.now()
	}
	from := req.From
	if from.IsZero() {
		from = to.Add(-7 * 24 * time.Hour)
	}
	from = interval.BucketStart(from)
	if !to.After(from) {
		return nil, domain.ErrInvalidArgument.WithDetails("to must be after from")
	}
	if to.Sub(from)/interval.Duration() > maxAdoptionBuckets {
		return nil, domain.ErrInvalidArgument.WithDetailsf("range exceeds %d %s buckets", maxAdoptionBuckets, interval)
	}

	buckets, err := s.repo.QueryCounters(ctx, releaseID, interval, from, to)
	if err != nil {
		return nil, storageError(err)
	}

	report := &AdoptionReport{
		ReleaseID: releaseID,
		Interval:  interval,
		From:      from,
		To:        to.UTC(),
		Buckets:   buckets,
	}
	if report.Buckets == nil {
		report.Buckets = []domain.CounterBucket{}
	}
	for _, b := range buckets {
		report.Totals.Merge(b.Counters)
	}
	report.SuccessRate = report.Totals.SuccessRate()
	report.DownloadSuccessRate = report.Totals.DownloadSuccessRate()
	report.RollbackRate = report.Totals.RollbackRate()
	return report, nil
}
