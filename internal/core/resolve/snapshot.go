package resolve

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// Snapshot is an immutable view of the registry and the servable catalog.
type Snapshot struct {
	dimensions []*domain.Dimension
	byKey      map[string]*domain.Dimension
	releases   []*domain.Release
	matcher    domain.CohortMatcher
	builtAt    time.Time
}

// NewSnapshot copies dims and releases into a snapshot. Releases that are
// not servable are dropped. A nil matcher selects domain.DefinitionMatcher.
func NewSnapshot(dims []*domain.Dimension, releases []*domain.Release, matcher domain.CohortMatcher) *Snapshot {
	if matcher == nil {
		matcher = domain.DefinitionMatcher{}
	}

	s := &Snapshot{
		dimensions: make([]*domain.Dimension, 0, len(dims)),
		byKey:      make(map[string]*domain.Dimension, len(dims)),
		releases:   make([]*domain.Release, 0, len(releases)),
		matcher:    matcher,
		builtAt:    time.Now(),
	}
	for _, d := range dims {
		c := d.Clone()
		domain.SortCohorts(c.Cohorts)
		s.dimensions = append(s.dimensions, c)
		s.byKey[c.Key] = c
	}
	sort.SliceStable(s.dimensions, func(i, j int) bool {
		return s.dimensions[i].Priority < s.dimensions[j].Priority
	})
	for _, r := range releases {
		if r.Status().Servable() {
			s.releases = append(s.releases, r.Clone())
		}
	}
	return s
}

// Dimensions returns the number of dimensions in the snapshot.
func (s *Snapshot) Dimensions() int { return len(s.dimensions) }

// Releases returns the number of servable releases in the snapshot.
func (s *Snapshot) Releases() int { return len(s.releases) }

// BuiltAt returns when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Engine serves resolutions from the most recently published snapshot.
type Engine struct {
	current atomic.Pointer[Snapshot]
}

// NewEngine creates an engine holding an empty snapshot.
func NewEngine() *Engine {
	e := &Engine{}
	e.current.Store(NewSnapshot(nil, nil, nil))
	return e
}

// Swap publishes snap for all subsequent resolutions.
func (e *Engine) Swap(snap *Snapshot) {
	e.current.Store(snap)
}

// Snapshot returns the snapshot currently served.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Resolve resolves req against the current snapshot.
func (e *Engine) Resolve(req Request) (Result, bool) {
	return Resolve(e.current.Load(), req)
}
