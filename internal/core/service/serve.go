package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/resolve"
	"github.com/yndnr/otamesh-go/pkg/cmap"
)

// ServeService answers device release-config requests. It owns the
// resolution engine and rebuilds its snapshot from the catalog.
type ServeService struct {
	engine   *resolve.Engine
	dims     *DimensionService
	releases ReleaseReader
	packages *PackageService
	files    *FileService
	matcher  domain.CohortMatcher
	logger   *slog.Logger

	// configs caches materialised release configs by release id. The
	// fields they are built from never change after creation.
	configs *cmap.Map[*domain.ReleaseConfig]

	refreshMu sync.Mutex
	onRefresh []func(*resolve.Snapshot)
	ready     atomic.Bool
}

// NewServeService creates a serving service. A nil matcher selects
// domain.DefinitionMatcher.
func NewServeService(
	engine *resolve.Engine,
	dims *DimensionService,
	releases ReleaseReader,
	packages *PackageService,
	files *FileService,
	matcher domain.CohortMatcher,
	logger *slog.Logger,
) *ServeService {
	if matcher == nil {
		matcher = domain.DefinitionMatcher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServeService{
		engine:   engine,
		dims:     dims,
		releases: releases,
		packages: packages,
		files:    files,
		matcher:  matcher,
		logger:   logger,
		configs:  cmap.New[*domain.ReleaseConfig](),
	}
}

// ============================================================================
// Snapshot refresh
// ============================================================================

// Refresh rebuilds the resolution snapshot from the catalog and swaps it in.
func (s *ServeService) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	releases, err := s.releases.ListReleases(ctx)
	if err != nil {
		return storageError(err)
	}
	snap := resolve.NewSnapshot(s.dims.List(ctx), releases, s.matcher)
	s.engine.Swap(snap)
	s.ready.Store(true)
	for _, fn := range s.onRefresh {
		fn(snap)
	}

	servable := make(map[string]struct{}, len(releases))
	for _, r := range releases {
		if r.Status().Servable() {
			servable[r.ID] = struct{}{}
		}
	}
	s.configs.DeleteFunc(func(id string, _ *domain.ReleaseConfig) bool {
		_, keep := servable[id]
		return !keep
	})

	s.logger.Debug("resolution snapshot refreshed",
		"dimensions", snap.Dimensions(),
		"releases", snap.Releases())
	return nil
}

// OnRefresh registers fn to run after each published snapshot. Register
// before the first Refresh.
func (s *ServeService) OnRefresh(fn func(*resolve.Snapshot)) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.onRefresh = append(s.onRefresh, fn)
}

// Ready reports whether a snapshot has been built from the catalog.
func (s *ServeService) Ready() bool {
	return s.ready.Load()
}

// Snapshot returns the live resolution snapshot.
func (s *ServeService) Snapshot() *resolve.Snapshot {
	return s.engine.Snapshot()
}

// OnCatalogChange is a ChangeFunc that refreshes the snapshot.
func (s *ServeService) OnCatalogChange(ctx context.Context) {
	if err := s.Refresh(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("snapshot refresh after catalog change failed", "error", err)
	}
}

// Run refreshes the snapshot every interval until ctx is done.
func (s *ServeService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("periodic snapshot refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ============================================================================
// Device requests
// ============================================================================

// ReleaseConfig resolves req and returns the release config the device
// should run. ok is false when no release applies.
func (s *ServeService) ReleaseConfig(ctx context.Context, req resolve.Request) (*domain.ReleaseConfig, resolve.Result, bool, error) {
	if req.DeviceID == "" {
		return nil, resolve.Result{}, false, domain.ErrMissingArgument.WithDetails("device_id is required")
	}

	res, ok := s.engine.Resolve(req)
	if !ok {
		return nil, res, false, nil
	}
	rc, err := s.materialise(ctx, res.Release)
	if err != nil {
		return nil, res, false, err
	}
	return rc, res, true, nil
}

// Preview is the operator view of a resolution.
type Preview struct {
	Matched        bool                  `json:"matched"`
	ReleaseID      string                `json:"release_id,omitempty"`
	PackageVersion int                   `json:"package_version,omitempty"`
	Specificity    int                   `json:"specificity"`
	Bucket         int                   `json:"bucket"`
	Skipped        int                   `json:"skipped"`
	Config         *domain.ReleaseConfig `json:"config,omitempty"`
}

// Preview resolves req like a device would and explains the outcome.
func (s *ServeService) Preview(ctx context.Context, req resolve.Request) (*Preview, error) {
	rc, res, ok, err := s.ReleaseConfig(ctx, req)
	if err != nil {
		return nil, err
	}

	p := &Preview{Bucket: resolve.Bucket(req.DeviceID), Skipped: res.Skipped}
	if !ok {
		return p, nil
	}
	p.Matched = true
	p.ReleaseID = res.Release.ID
	p.PackageVersion = res.Release.PackageVersion
	p.Specificity = res.Specificity
	p.Config = rc
	return p, nil
}

// materialise builds the device-facing manifest of a release.
func (s *ServeService) materialise(ctx context.Context, r *domain.Release) (*domain.ReleaseConfig, error) {
	if rc, ok := s.configs.Get(r.ID); ok {
		return rc, nil
	}

	pkg, err := s.packages.Get(ctx, "", r.PackageVersion)
	if err != nil {
		return nil, err
	}
	index, err := s.fileRefs(ctx, []string{pkg.Index})
	if err != nil {
		return nil, err
	}
	important, err := s.fileRefs(ctx, pkg.Important)
	if err != nil {
		return nil, err
	}
	lazy, err := s.fileRefs(ctx, pkg.Lazy)
	if err != nil {
		return nil, err
	}
	resources, err := s.fileRefs(ctx, r.Resources)
	if err != nil {
		return nil, err
	}

	rc := &domain.ReleaseConfig{
		Version: r.Config.Version,
		Config:  r.Config,
		Package: domain.PackageRef{
			Name:       pkg.Name,
			Version:    pkg.Version,
			Properties: pkg.Properties,
			Index:      index[0],
			Important:  important,
			Lazy:       lazy,
		},
		Resources: resources,
	}
	s.configs.Set(r.ID, rc)
	return rc, nil
}

func (s *ServeService) fileRefs(ctx context.Context, ids []string) ([]domain.FileRef, error) {
	refs := make([]domain.FileRef, 0, len(ids))
	for _, id := range ids {
		f, err := s.files.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, domain.NewFileRef(f))
	}
	return refs, nil
}
