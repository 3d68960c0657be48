package service

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// DimensionRepository persists dimensions. ApplyDimensions must commit put
// and remove atomically.
type DimensionRepository interface {
	ListDimensions(ctx context.Context) ([]*domain.Dimension, error)
	ApplyDimensions(ctx context.Context, put []*domain.Dimension, remove []string) error
}

// ReleaseReader lists releases for dependency checks.
type ReleaseReader interface {
	ListReleases(ctx context.Context) ([]*domain.Release, error)
}

// DimensionService is the dimension registry. It keeps the registry in
// priority order in memory and only publishes a change after storage has
// committed it.
type DimensionService struct {
	repo     DimensionRepository
	releases ReleaseReader
	onChange ChangeFunc

	mu    sync.RWMutex
	order []string // order[i] has priority i+1
	byKey map[string]*domain.Dimension
}

// NewDimensionService creates an empty registry. Call Load to read the
// persisted dimensions.
func NewDimensionService(repo DimensionRepository, releases ReleaseReader) *DimensionService {
	return &DimensionService{
		repo:     repo,
		releases: releases,
		byKey:    make(map[string]*domain.Dimension),
	}
}

// OnChange sets the callback run after every committed mutation.
func (s *DimensionService) OnChange(fn ChangeFunc) {
	s.onChange = fn
}

// Load replaces the in-memory registry with the stored dimensions.
func (s *DimensionService) Load(ctx context.Context) error {
	dims, err := s.repo.ListDimensions(ctx)
	if err != nil {
		return storageError(err)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i].Priority < dims[j].Priority })

	order := make([]string, len(dims))
	byKey := make(map[string]*domain.Dimension, len(dims))
	for i, d := range dims {
		if d.Priority != i+1 {
			return domain.ErrDimensionValidation.WithDetailsf("stored priorities are not dense at %s (%d)", d.Key, d.Priority)
		}
		domain.SortCohorts(d.Cohorts)
		order[i] = d.Key
		byKey[d.Key] = d
	}

	s.mu.Lock()
	s.order, s.byKey = order, byKey
	s.mu.Unlock()
	return nil
}

// ============================================================================
// Queries
// ============================================================================

// List returns copies of every dimension in priority order.
func (s *DimensionService) List(ctx context.Context) []*domain.Dimension {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Dimension, len(s.order))
	for i, key := range s.order {
		out[i] = s.byKey[key].Clone()
	}
	return out
}

// Get returns a copy of one dimension.
func (s *DimensionService) Get(ctx context.Context, key string) (*domain.Dimension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byKey[key]
	if !ok {
		return nil, domain.ErrDimensionNotFound.WithDetails(key)
	}
	return d.Clone(), nil
}

// DimensionLookup reads the registry inside Hold.
type DimensionLookup func(key string) (*domain.Dimension, bool)

// Hold runs fn with the registry frozen: Remove and UpdateCohorts wait until
// fn returns, so anything fn validates against lookup stays true while fn
// persists. fn must not call back into the DimensionService.
func (s *DimensionService) Hold(fn func(lookup DimensionLookup) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(func(key string) (*domain.Dimension, bool) {
		d, ok := s.byKey[key]
		return d, ok
	})
}

// ============================================================================
// Register
// ============================================================================

// RegisterDimensionRequest describes a new dimension. Priority 0 appends
// the dimension after the current lowest priority.
type RegisterDimensionRequest struct {
	Key         string
	Priority    int
	Kind        domain.DimensionKind
	DependsOn   string
	Mandatory   bool
	Schema      *domain.DimensionSchema
	Description string
	Cohorts     []domain.Cohort
}

// Register adds a dimension to the registry.
func (s *DimensionService) Register(ctx context.Context, req *RegisterDimensionRequest) (*domain.Dimension, error) {
	kind := req.Kind
	if kind == "" {
		kind = domain.DimensionStandard
	}
	now := nowMillis()
	d := &domain.Dimension{
		Key:         req.Key,
		Priority:    req.Priority,
		Kind:        kind,
		DependsOn:   req.DependsOn,
		Mandatory:   req.Mandatory,
		Schema:      req.Schema,
		Description: req.Description,
		Cohorts:     req.Cohorts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	d = d.Clone()

	// 1. Validate the dimension on its own
	if err := d.Validate(); err != nil {
		return nil, err
	}
	domain.SortCohorts(d.Cohorts)

	err := s.mutate(ctx, func() error {
		// 2. Registry rules: unique key, dense priority, valid dependency
		if _, exists := s.byKey[d.Key]; exists {
			return domain.ErrDimensionValidation.WithDetailsf("dimension %q already exists", d.Key)
		}
		next := len(s.order) + 1
		switch {
		case d.Priority == 0:
			d.Priority = next
		case d.Priority < next:
			return domain.ErrDimensionValidation.WithDetailsf("priority %d is taken by %q", d.Priority, s.order[d.Priority-1])
		case d.Priority > next:
			return domain.ErrDimensionValidation.WithDetailsf("priority %d leaves a gap, next free priority is %d", d.Priority, next)
		}
		if d.IsCohort() {
			dep, ok := s.byKey[d.DependsOn]
			if !ok {
				return domain.ErrDimensionValidation.WithDetailsf("depends_on %q is not registered", d.DependsOn)
			}
			if dep.IsCohort() {
				return domain.ErrDimensionValidation.WithDetailsf("depends_on %q is a cohort dimension", d.DependsOn)
			}
		}

		// 3. Persist, then publish
		if err := s.repo.ApplyDimensions(ctx, []*domain.Dimension{d}, nil); err != nil {
			return storageError(err)
		}
		s.order = append(s.order, d.Key)
		s.byKey[d.Key] = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// ============================================================================
// Reorder / Remove
// ============================================================================

// Reorder moves key to newPriority. Every dimension between the old and the
// new position shifts by one; the whole batch commits atomically.
func (s *DimensionService) Reorder(ctx context.Context, key string, newPriority int) (*domain.Dimension, error) {
	var moved *domain.Dimension
	err := s.mutate(ctx, func() error {
		current, ok := s.byKey[key]
		if !ok {
			return domain.ErrDimensionNotFound.WithDetails(key)
		}
		if newPriority < 1 || newPriority > len(s.order) {
			return domain.ErrDimensionValidation.WithDetailsf("priority must be within 1..%d", len(s.order))
		}

		if newPriority != current.Priority {
			order := slices.Delete(slices.Clone(s.order), current.Priority-1, current.Priority)
			order = slices.Insert(order, newPriority-1, key)
			if err := s.commitOrder(ctx, order, nil); err != nil {
				return err
			}
		}
		moved = s.byKey[key].Clone()
		return nil
	})
	return moved, err
}

// Remove deletes a dimension that nothing depends on and closes the gap it
// leaves in the priority order.
func (s *DimensionService) Remove(ctx context.Context, key string) error {
	return s.mutate(ctx, func() error { return s.remove(ctx, key) })
}

func (s *DimensionService) remove(ctx context.Context, key string) error {
	current, ok := s.byKey[key]
	if !ok {
		return domain.ErrDimensionNotFound.WithDetails(key)
	}

	// 1. Cohort dimensions depending on key
	for _, k := range s.order {
		if d := s.byKey[k]; d.IsCohort() && d.DependsOn == key {
			return domain.ErrDimensionDependency.WithDetailsf("cohort dimension %q depends on %q", d.Key, key)
		}
	}

	// 2. Live releases filtering on key
	releases, err := s.releases.ListReleases(ctx)
	if err != nil {
		return storageError(err)
	}
	for _, r := range releases {
		if r.Status() == domain.ReleaseRolledBack {
			continue
		}
		if _, uses := r.DimensionFilter[key]; uses {
			return domain.ErrDimensionDependency.WithDetailsf("release %s filters on %q", r.ID, key)
		}
	}

	// 3. Delete and renumber in one batch
	order := slices.Delete(slices.Clone(s.order), current.Priority-1, current.Priority)
	if err := s.commitOrder(ctx, order, []string{key}); err != nil {
		return err
	}
	delete(s.byKey, key)
	return nil
}

// commitOrder persists the priorities implied by order together with the
// removals and swaps the in-memory index after the commit. Callers hold mu.
func (s *DimensionService) commitOrder(ctx context.Context, order []string, remove []string) error {
	now := nowMillis()
	updated := make(map[string]*domain.Dimension)
	var put []*domain.Dimension
	for i, key := range order {
		d := s.byKey[key]
		if d.Priority == i+1 {
			continue
		}
		c := d.Clone()
		c.Priority = i + 1
		c.UpdatedAt = now
		updated[key] = c
		put = append(put, c)
	}

	if err := s.repo.ApplyDimensions(ctx, put, remove); err != nil {
		return storageError(err)
	}

	for key, d := range updated {
		s.byKey[key] = d
	}
	s.order = order
	return nil
}

// ============================================================================
// Cohorts
// ============================================================================

// UpdateCohorts replaces the cohort definitions of a cohort dimension.
// Cohorts still named by a live release cannot be dropped.
func (s *DimensionService) UpdateCohorts(ctx context.Context, key string, cohorts []domain.Cohort) (*domain.Dimension, error) {
	var updated *domain.Dimension
	err := s.mutate(ctx, func() error {
		var err error
		updated, err = s.updateCohorts(ctx, key, cohorts)
		return err
	})
	return updated, err
}

func (s *DimensionService) updateCohorts(ctx context.Context, key string, cohorts []domain.Cohort) (*domain.Dimension, error) {
	current, ok := s.byKey[key]
	if !ok {
		return nil, domain.ErrDimensionNotFound.WithDetails(key)
	}
	if !current.IsCohort() {
		return nil, domain.ErrDimensionValidation.WithDetailsf("%q is not a cohort dimension", key)
	}

	next := current.Clone()
	next.Cohorts = slices.Clone(cohorts)
	next.UpdatedAt = nowMillis()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	domain.SortCohorts(next.Cohorts)

	releases, err := s.releases.ListReleases(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	for _, r := range releases {
		if r.Status() == domain.ReleaseRolledBack {
			continue
		}
		if want, uses := r.DimensionFilter[key]; uses && !next.HasCohort(want) {
			return nil, domain.ErrDimensionDependency.WithDetailsf("release %s targets cohort %q", r.ID, want)
		}
	}

	if err := s.repo.ApplyDimensions(ctx, []*domain.Dimension{next}, nil); err != nil {
		return nil, storageError(err)
	}
	s.byKey[key] = next
	return next.Clone(), nil
}

// mutate runs fn under the write lock and fires the change callback after
// the lock is released, so the callback may read the registry.
func (s *DimensionService) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	err := fn()
	s.mu.Unlock()

	if err == nil && s.onChange != nil {
		s.onChange(ctx)
	}
	return err
}
