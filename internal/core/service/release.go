package service

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// ReleaseRepository persists releases.
type ReleaseRepository interface {
	CreateRelease(ctx context.Context, r *domain.Release) error
	GetRelease(ctx context.Context, id string) (*domain.Release, error)
	UpdateRelease(ctx context.Context, r *domain.Release) error
	ListReleases(ctx context.Context) ([]*domain.Release, error)
}

// ReleaseService creates releases and drives their rollout lifecycle.
type ReleaseService struct {
	repo     ReleaseRepository
	dims     *DimensionService
	packages *PackageService
	files    *FileService
	onChange ChangeFunc

	// mu serializes read-modify-write cycles on releases.
	mu sync.Mutex
}

// NewReleaseService creates a new ReleaseService.
func NewReleaseService(repo ReleaseRepository, dims *DimensionService, packages *PackageService, files *FileService) *ReleaseService {
	return &ReleaseService{
		repo:     repo,
		dims:     dims,
		packages: packages,
		files:    files,
	}
}

// OnChange sets the callback run after every committed mutation.
func (s *ReleaseService) OnChange(fn ChangeFunc) {
	s.onChange = fn
}

// ============================================================================
// Create
// ============================================================================

// CreateReleaseRequest describes a new release. Zero timeouts take the
// client defaults.
type CreateReleaseRequest struct {
	Name                 string
	PackageVersion       int
	DimensionFilter      map[string]string
	RolloutPercentage    int
	ReleaseConfigTimeout int64
	BootTimeout          int64
	Properties           map[string]any
	Resources            []string
}

// Create validates req against the registry and the package catalog and
// stores the release in the created status.
func (s *ReleaseService) Create(ctx context.Context, req *CreateReleaseRequest) (*domain.Release, error) {
	// 1. Build the release
	r, err := domain.NewRelease(req.PackageVersion, maps.Clone(req.DimensionFilter))
	if err != nil {
		return nil, err
	}
	r.Name = req.Name
	r.Experiment.RolloutPercentage = req.RolloutPercentage
	if req.ReleaseConfigTimeout != 0 {
		r.Config.ReleaseConfigTimeout = req.ReleaseConfigTimeout
	}
	if req.BootTimeout != 0 {
		r.Config.BootTimeout = req.BootTimeout
	}
	r.Config.Properties = maps.Clone(req.Properties)

	if err := r.Validate(); err != nil {
		return nil, err
	}

	// 2. Package version must exist in the primary group
	if _, err := s.packages.Get(ctx, "", r.PackageVersion); err != nil {
		if domain.IsDomainError(err, domain.ErrPackageNotFound.Code) ||
			domain.IsDomainError(err, domain.ErrPackageGroupNotFound.Code) {
			return nil, domain.ErrReleaseValidation.WithDetailsf("package version %d does not exist in the primary group", r.PackageVersion)
		}
		return nil, err
	}

	// 3. Pin resources
	r.Resources, err = s.files.Canonicalize(ctx, req.Resources)
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) && (de.Code == domain.ErrFileNotFound.Code || de.Code == domain.ErrFileValidation.Code) {
			return nil, domain.ErrReleaseValidation.WithDetailsf("resource %s", de.Details)
		}
		return nil, err
	}

	// 4. Check the filter and persist with the registry held, so a
	// dimension or cohort the filter names cannot be removed in between.
	err = s.dims.Hold(func(lookup DimensionLookup) error {
		if err := validateFilter(lookup, r.DimensionFilter); err != nil {
			return err
		}
		if err := s.repo.CreateRelease(ctx, r); err != nil {
			return storageError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx)
	return r, nil
}

func validateFilter(lookup DimensionLookup, filter map[string]string) error {
	for key, value := range filter {
		dim, ok := lookup(key)
		if !ok {
			return domain.ErrReleaseValidation.WithDetailsf("dimension %q is not registered", key)
		}
		if dim.IsCohort() {
			if !dim.HasCohort(value) {
				return domain.ErrReleaseValidation.WithDetailsf("dimension %q has no cohort %q", key, value)
			}
			continue
		}
		if !dim.Schema.Allows(value) {
			return domain.ErrReleaseValidation.WithDetailsf("value %q is not allowed for dimension %q", value, key)
		}
	}
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// Publish starts serving a created release.
func (s *ReleaseService) Publish(ctx context.Context, id string) (*domain.Release, error) {
	return s.transition(ctx, id, (*domain.Release).Publish)
}

// Pause stops serving an active release.
func (s *ReleaseService) Pause(ctx context.Context, id string) (*domain.Release, error) {
	return s.transition(ctx, id, (*domain.Release).Pause)
}

// Resume serves a paused release again.
func (s *ReleaseService) Resume(ctx context.Context, id string) (*domain.Release, error) {
	return s.transition(ctx, id, (*domain.Release).Resume)
}

// Ramp changes the rollout percentage.
func (s *ReleaseService) Ramp(ctx context.Context, id string, percentage int) (*domain.Release, error) {
	return s.transition(ctx, id, func(r *domain.Release) error { return r.Ramp(percentage) })
}

// Conclude completes the rollout at 100%.
func (s *ReleaseService) Conclude(ctx context.Context, id string) (*domain.Release, error) {
	return s.transition(ctx, id, (*domain.Release).Conclude)
}

// Rollback withdraws the release. Devices resolve to the next-best release
// on their next check.
func (s *ReleaseService) Rollback(ctx context.Context, id string) (*domain.Release, error) {
	return s.transition(ctx, id, (*domain.Release).Rollback)
}

func (s *ReleaseService) transition(ctx context.Context, id string, apply func(*domain.Release) error) (*domain.Release, error) {
	s.mu.Lock()
	r, err := s.repo.GetRelease(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil, storageError(err)
	}
	if err := apply(r); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.repo.UpdateRelease(ctx, r); err != nil {
		s.mu.Unlock()
		return nil, storageError(err)
	}
	s.mu.Unlock()

	s.changed(ctx)
	return r, nil
}

// ============================================================================
// Queries
// ============================================================================

// Get returns one release.
func (s *ReleaseService) Get(ctx context.Context, id string) (*domain.Release, error) {
	r, err := s.repo.GetRelease(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	return r, nil
}

// List returns releases newest first. An empty status returns all.
func (s *ReleaseService) List(ctx context.Context, status domain.ReleaseStatus) ([]*domain.Release, error) {
	if status != "" && !status.Valid() {
		return nil, domain.ErrInvalidArgument.WithDetailsf("unknown status %q", status)
	}
	all, err := s.repo.ListReleases(ctx)
	if err != nil {
		return nil, storageError(err)
	}

	out := all[:0]
	for _, r := range all {
		if status == "" || r.Status() == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *ReleaseService) changed(ctx context.Context) {
	if s.onChange != nil {
		s.onChange(ctx)
	}
}
