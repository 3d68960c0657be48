package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/resolve"
)

func TestServeService_ReleaseConfig(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)
	c.mustRegister(t, &RegisterDimensionRequest{Key: "region"})
	c.mustRegister(t, &RegisterDimensionRequest{Key: "app_version"})

	index := c.mustFile(t, "index.html")
	vendor := c.mustFile(t, "vendor.js")
	lazy := c.mustFile(t, "images/hero.png")
	font := c.mustFile(t, "fonts/a.ttf")

	c.mustPackage(t, index.ID(), vendor.ID())
	p2, err := c.packages.Create(ctx, &CreatePackageRequest{
		Name:      "second",
		Index:     index.ID(),
		Important: []string{vendor.ID()},
		Lazy:      []string{lazy.ID()},
	})
	if err != nil {
		t.Fatal(err)
	}

	broad := c.mustRelease(t, 1, map[string]string{"region": "us"}, 100)
	narrow, err := c.releases.Create(ctx, &CreateReleaseRequest{
		PackageVersion:    p2.Version,
		DimensionFilter:   map[string]string{"region": "us", "app_version": "2.0"},
		RolloutPercentage: 100,
		Resources:         []string{font.ID()},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.releases.Publish(ctx, narrow.ID); err != nil {
		t.Fatal(err)
	}

	req := resolve.Request{DeviceID: "dev-1", Context: map[string]string{"region": "us", "app_version": "2.0"}}
	rc, res, ok, err := c.serve.ReleaseConfig(ctx, req)
	if err != nil || !ok {
		t.Fatalf("ReleaseConfig() ok=%v err=%v", ok, err)
	}
	if res.Release.ID != narrow.ID || res.Specificity != 2 {
		t.Errorf("resolved %s (specificity %d), want %s", res.Release.ID, res.Specificity, narrow.ID)
	}
	if rc.Version != narrow.ID || rc.Package.Version != 2 || rc.Package.Name != "second" {
		t.Errorf("config = %+v", rc)
	}
	if rc.Package.Index.FilePath != "index.html" || rc.Package.Index.Checksum != index.Checksum {
		t.Errorf("index ref = %+v", rc.Package.Index)
	}
	if len(rc.Package.Important) != 1 || len(rc.Package.Lazy) != 1 || len(rc.Resources) != 1 {
		t.Errorf("file refs = %d important, %d lazy, %d resources",
			len(rc.Package.Important), len(rc.Package.Lazy), len(rc.Resources))
	}
	if err := rc.Validate(); err != nil {
		t.Errorf("materialised config invalid: %v", err)
	}

	// Rolling back the narrow release falls back to the broad one.
	if _, err := c.releases.Rollback(ctx, narrow.ID); err != nil {
		t.Fatal(err)
	}
	_, res, ok, _ = c.serve.ReleaseConfig(ctx, req)
	if !ok || res.Release.ID != broad.ID {
		t.Errorf("after rollback resolved %v, want %s", res.Release, broad.ID)
	}

	// No release targets this context.
	_, _, ok, err = c.serve.ReleaseConfig(ctx, resolve.Request{DeviceID: "dev-1", Context: map[string]string{"region": "eu"}})
	if err != nil || ok {
		t.Errorf("eu device: ok=%v err=%v, want no match", ok, err)
	}

	if _, _, _, err := c.serve.ReleaseConfig(ctx, resolve.Request{}); !errors.Is(err, domain.ErrMissingArgument) {
		t.Errorf("missing device id error = %v", err)
	}
}

func TestServeService_Preview(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)
	c.mustRegister(t, &RegisterDimensionRequest{Key: "region"})
	index := c.mustFile(t, "index.html")
	c.mustPackage(t, index.ID())
	rel := c.mustRelease(t, 1, map[string]string{"region": "eu"}, 100)

	p, err := c.serve.Preview(ctx, resolve.Request{DeviceID: "dev-9", Context: map[string]string{"region": "eu"}})
	if err != nil {
		t.Fatal(err)
	}
	if !p.Matched || p.ReleaseID != rel.ID || p.Specificity != 1 || p.Config == nil {
		t.Errorf("preview = %+v", p)
	}
	if p.Bucket != resolve.Bucket("dev-9") {
		t.Errorf("bucket = %d, want %d", p.Bucket, resolve.Bucket("dev-9"))
	}

	p, err = c.serve.Preview(ctx, resolve.Request{DeviceID: "dev-9", Context: map[string]string{"region": "us"}})
	if err != nil || p.Matched {
		t.Errorf("preview for us = %+v, %v", p, err)
	}
}

func TestServeService_RefreshTracksCatalog(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)
	c.mustRegister(t, &RegisterDimensionRequest{Key: "region"})
	index := c.mustFile(t, "index.html")
	c.mustPackage(t, index.ID())

	r, err := c.releases.Create(ctx, &CreateReleaseRequest{PackageVersion: 1, RolloutPercentage: 100})
	if err != nil {
		t.Fatal(err)
	}
	if n := c.engine.Snapshot().Releases(); n != 0 {
		t.Errorf("created release should not be served, snapshot has %d", n)
	}
	if _, err := c.releases.Publish(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	if n := c.engine.Snapshot().Releases(); n != 1 {
		t.Errorf("published release should be served, snapshot has %d", n)
	}
	if _, err := c.releases.Pause(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	if n := c.engine.Snapshot().Releases(); n != 0 {
		t.Errorf("paused release should not be served, snapshot has %d", n)
	}
}

func TestServeService_Run(t *testing.T) {
	c := newTestCatalog(t)
	before := c.engine.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.serve.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for c.engine.Snapshot() == before {
		select {
		case <-deadline:
			t.Fatal("Run did not refresh the snapshot")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestServeService_ReadyAndOnRefresh(t *testing.T) {
	c := newTestCatalog(t)
	var seen int
	c.serve.OnRefresh(func(s *resolve.Snapshot) { seen = s.Dimensions() })

	c.mustRegister(t, &RegisterDimensionRequest{Key: "region"})
	if !c.serve.Ready() {
		t.Error("Ready() = false after a refresh")
	}
	if seen != 1 {
		t.Errorf("OnRefresh saw %d dimensions, want 1", seen)
	}
	if c.serve.Snapshot() != c.engine.Snapshot() {
		t.Error("Snapshot() should return the live snapshot")
	}
}
