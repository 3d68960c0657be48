package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/resolve"
	"github.com/yndnr/otamesh-go/internal/storage"
)

// testCatalog wires every catalog service over an in-memory store.
type testCatalog struct {
	store    *storage.CatalogStore
	dims     *DimensionService
	files    *FileService
	packages *PackageService
	releases *ReleaseService
	serve    *ServeService
	engine   *resolve.Engine
}

func newTestCatalog(t *testing.T) *testCatalog {
	t.Helper()

	store := storage.NewCatalogStore(storage.NewMemoryEngine())
	dims := NewDimensionService(store, store)
	files := NewFileService(store)
	packages := NewPackageService(store, files)
	releases := NewReleaseService(store, dims, packages, files)
	engine := resolve.NewEngine()
	serve := NewServeService(engine, dims, store, packages, files, nil, slog.Default())

	dims.OnChange(serve.OnCatalogChange)
	releases.OnChange(serve.OnCatalogChange)

	if err := dims.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return &testCatalog{
		store:    store,
		dims:     dims,
		files:    files,
		packages: packages,
		releases: releases,
		serve:    serve,
		engine:   engine,
	}
}

func (c *testCatalog) mustRegister(t *testing.T, req *RegisterDimensionRequest) *domain.Dimension {
	t.Helper()
	d, err := c.dims.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("Register(%s): %v", req.Key, err)
	}
	return d
}

func (c *testCatalog) mustFile(t *testing.T, path string) *domain.File {
	t.Helper()
	data := []byte("content of " + path)
	f, err := c.files.Create(context.Background(), &CreateFileRequest{
		FilePath: path,
		URL:      "https://cdn.example.com/" + path,
		Checksum: domain.Checksum(data),
		Size:     int64(len(data)),
	})
	if err != nil {
		t.Fatalf("Create file %s: %v", path, err)
	}
	return f
}

// mustPackage creates a package in the primary group, creating the group on
// first use.
func (c *testCatalog) mustPackage(t *testing.T, index string, important ...string) *domain.Package {
	t.Helper()
	ctx := context.Background()
	if _, err := c.packages.PrimaryGroup(ctx); err != nil {
		if _, err := c.packages.CreateGroup(ctx, &CreateGroupRequest{Name: "main"}); err != nil {
			t.Fatal(err)
		}
	}
	p, err := c.packages.Create(ctx, &CreatePackageRequest{Index: index, Important: important})
	if err != nil {
		t.Fatalf("Create package: %v", err)
	}
	return p
}

func (c *testCatalog) mustRelease(t *testing.T, pkgVersion int, filter map[string]string, rollout int) *domain.Release {
	t.Helper()
	ctx := context.Background()
	r, err := c.releases.Create(ctx, &CreateReleaseRequest{
		PackageVersion:    pkgVersion,
		DimensionFilter:   filter,
		RolloutPercentage: rollout,
	})
	if err != nil {
		t.Fatalf("Create release: %v", err)
	}
	if _, err := c.releases.Publish(ctx, r.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Distinct created_at values keep tie-breaking observable.
	time.Sleep(2 * time.Millisecond)
	return r
}

// failingRepo fails every call with a non-domain error.
type failingRepo struct{}

var errDisk = errors.New("disk on fire")

func (failingRepo) ListDimensions(context.Context) ([]*domain.Dimension, error) { return nil, errDisk }
func (failingRepo) ApplyDimensions(context.Context, []*domain.Dimension, []string) error {
	return errDisk
}
func (failingRepo) ListReleases(context.Context) ([]*domain.Release, error) { return nil, errDisk }
func (failingRepo) RecordEvent(context.Context, string, time.Duration, []domain.CounterIncrement) (bool, error) {
	return false, errDisk
}
func (failingRepo) QueryCounters(context.Context, string, domain.Interval, time.Time, time.Time) ([]domain.CounterBucket, error) {
	return nil, errDisk
}
