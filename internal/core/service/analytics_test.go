package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/storage"
)

func newTestAnalytics(t *testing.T, now time.Time) *AnalyticsService {
	t.Helper()
	s := NewAnalyticsService(storage.NewAnalyticsStore(storage.NewMemoryEngine()), time.Hour)
	s.now = func() time.Time { return now }
	return s
}

func event(attempt string, typ domain.EventType, release string, at time.Time) *domain.Event {
	return &domain.Event{
		AppUpdateID: attempt,
		DeviceID:    "dev-" + attempt,
		ReleaseID:   release,
		Type:        typ,
		Timestamp:   at.UnixMilli(),
	}
}

func TestAnalyticsService_IngestDeduplicates(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	s := newTestAnalytics(t, at.Add(time.Hour))

	batch := []*domain.Event{
		event("a1", domain.EventApplySuccess, "rel-x", at),
		event("a1", domain.EventApplySuccess, "rel-x", at), // replay in the same batch
		event("a2", domain.EventApplyFailure, "rel-x", at),
	}
	res, err := s.Ingest(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted != 2 || res.Duplicates != 1 {
		t.Errorf("Ingest() = %+v, want 2 accepted / 1 duplicate", res)
	}

	// The client retries the whole batch.
	res, err = s.Ingest(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted != 0 || res.Duplicates != 3 {
		t.Errorf("retried Ingest() = %+v, want all duplicates", res)
	}

	report, err := s.Adoption(ctx, &AdoptionRequest{ReleaseID: "rel-x"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Totals.ApplySuccess != 1 || report.Totals.ApplyFailures != 1 {
		t.Errorf("totals = %+v", report.Totals)
	}
	if report.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", report.SuccessRate)
	}
}

func TestAnalyticsService_AdoptionBuckets(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	s := newTestAnalytics(t, base.Add(48*time.Hour))

	events := []*domain.Event{
		// Arrives first but happened last.
		event("late", domain.EventDownloadCompleted, "rel-x", base.Add(26*time.Hour)),
		event("d1", domain.EventDownloadCompleted, "rel-x", base.Add(1*time.Hour)),
		event("d2", domain.EventDownloadFailed, "rel-x", base.Add(1*time.Hour+10*time.Minute)),
		event("d3", domain.EventDownloadCompleted, "rel-y", base.Add(2*time.Hour)),
		event("d4", domain.EventApplySuccess, "rel-x", base.Add(3*time.Hour)),
		event("d5", domain.EventRollbackInitiated, "rel-x", base.Add(4*time.Hour)),
	}
	if _, err := s.Ingest(ctx, events); err != nil {
		t.Fatal(err)
	}

	hourly, err := s.Adoption(ctx, &AdoptionRequest{
		ReleaseID: "rel-x", Interval: domain.IntervalHour,
		From: base, To: base.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hourly.Buckets) != 4 {
		t.Fatalf("hourly buckets = %d, want 4", len(hourly.Buckets))
	}
	if !hourly.Buckets[0].Bucket.Equal(base.Add(time.Hour)) {
		t.Errorf("first bucket = %v", hourly.Buckets[0].Bucket)
	}
	if hourly.DownloadSuccessRate < 0.66 || hourly.DownloadSuccessRate > 0.67 {
		t.Errorf("download success rate = %v, want 2/3", hourly.DownloadSuccessRate)
	}
	if hourly.RollbackRate != 1 {
		t.Errorf("rollback rate = %v, want 1", hourly.RollbackRate)
	}

	daily, err := s.Adoption(ctx, &AdoptionRequest{
		ReleaseID: "rel-x", Interval: domain.IntervalDay,
		From: base, To: base.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(daily.Buckets) != 2 || daily.Buckets[0].Counters.DownloadSuccess != 1 || daily.Buckets[1].Counters.DownloadSuccess != 1 {
		t.Errorf("daily buckets = %+v", daily.Buckets)
	}

	all, _ := s.Adoption(ctx, &AdoptionRequest{Interval: domain.IntervalDay, From: base, To: base.Add(48 * time.Hour)})
	if all.ReleaseID != domain.AllReleases || all.Totals.DownloadSuccess != 3 {
		t.Errorf("all releases totals = %+v", all.Totals)
	}
}

func TestAnalyticsService_EmptyReport(t *testing.T) {
	s := newTestAnalytics(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC))
	report, err := s.Adoption(context.Background(), &AdoptionRequest{ReleaseID: "rel-none"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Buckets) != 0 || report.SuccessRate != 0 || report.RollbackRate != 0 {
		t.Errorf("empty report = %+v", report)
	}
}

func TestAnalyticsService_Validation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	s := newTestAnalytics(t, now)

	bad := []*domain.Event{
		event("ok", domain.EventUpdateCheck, "", now),
		{AppUpdateID: "x", DeviceID: "d", Type: "EXPLODED", Timestamp: 1},
	}
	if _, err := s.Ingest(ctx, bad); !errors.Is(err, domain.ErrEventValidation) {
		t.Errorf("invalid batch error = %v", err)
	}
	if _, err := s.Ingest(ctx, nil); !errors.Is(err, domain.ErrEventValidation) {
		t.Errorf("empty batch error = %v", err)
	}

	// Nothing from the rejected batch was recorded.
	res, err := s.Ingest(ctx, bad[:1])
	if err != nil || res.Accepted != 1 {
		t.Errorf("valid event after rejected batch = %+v, %v", res, err)
	}

	if _, err := s.Adoption(ctx, &AdoptionRequest{Interval: "week"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("bad interval error = %v", err)
	}
	if _, err := s.Adoption(ctx, &AdoptionRequest{From: now, To: now.Add(-time.Hour)}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("inverted range error = %v", err)
	}
}

func TestAnalyticsService_StorageError(t *testing.T) {
	s := NewAnalyticsService(failingRepo{}, 0)
	_, err := s.Ingest(context.Background(), []*domain.Event{
		event("a", domain.EventUpdateCheck, "", time.Now()),
	})
	if !errors.Is(err, domain.ErrStorageError) {
		t.Errorf("Ingest() error = %v, want ErrStorageError", err)
	}
}

func TestIncrements(t *testing.T) {
	at := time.Date(2026, 5, 4, 13, 45, 0, 0, time.UTC)

	incs := Increments(event("a", domain.EventBootConfirmed, "rel-x", at))
	if len(incs) != 4 {
		t.Fatalf("got %d increments, want 4 (2 releases x 2 intervals)", len(incs))
	}
	for _, inc := range incs {
		if inc.Counter != domain.CounterBootConfirmed {
			t.Errorf("counter = %s", inc.Counter)
		}
		want := inc.Interval.BucketStart(at)
		if !inc.Bucket.Equal(want) {
			t.Errorf("%s bucket = %v, want %v", inc.Interval, inc.Bucket, want)
		}
	}

	for _, typ := range []domain.EventType{
		domain.EventDownloadStarted,
		domain.EventDeferredDownloadCompleted,
		domain.EventDeferredDownloadFailed,
	} {
		if incs := Increments(event("a", typ, "rel-x", at)); incs != nil {
			t.Errorf("%s should not bump counters, got %d", typ, len(incs))
		}
	}
}
