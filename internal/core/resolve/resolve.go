// Package resolve selects the release a device should run.
//
// Resolution is a pure function of an immutable Snapshot (dimensions sorted
// by priority plus servable releases) and a Request. The Engine publishes
// snapshots through an atomic pointer so readers never block on catalog
// writers.
package resolve

import (
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// Buckets is the number of rollout buckets a device can fall into.
const Buckets = 100

// Request is the device side of a resolution.
type Request struct {
	DeviceID string
	Context  map[string]string
}

// Result describes a successful resolution.
type Result struct {
	Release *domain.Release
	// Specificity is the length of the gap-free priority prefix the release
	// filter matched.
	Specificity int
	// Bucket is the rollout bucket of the device.
	Bucket int
	// Skipped counts better-ranked candidates that were gated out by rollout.
	Skipped int
}

// Bucket maps a device id to a stable rollout bucket in [0, 100).
func Bucket(deviceID string) int {
	return int(murmur3.Sum32([]byte(deviceID)) % Buckets)
}

// candidate is a release that survived filtering.
type candidate struct {
	release     *domain.Release
	specificity int
}

// Resolve runs the targeting algorithm. ok is false when no release
// applies; that is a normal outcome, not an error.
func Resolve(snap *Snapshot, req Request) (Result, bool) {
	if snap == nil || len(snap.releases) == 0 {
		return Result{}, false
	}

	candidates := make([]candidate, 0, len(snap.releases))
	for _, rel := range snap.releases {
		if spec, ok := snap.evaluate(rel, req.Context); ok {
			candidates = append(candidates, candidate{release: rel, specificity: spec})
		}
	}
	if len(candidates) == 0 {
		return Result{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.specificity != b.specificity {
			return a.specificity > b.specificity
		}
		if a.release.CreatedAt != b.release.CreatedAt {
			return a.release.CreatedAt > b.release.CreatedAt
		}
		return a.release.ID > b.release.ID
	})

	bucket := Bucket(req.DeviceID)
	for i, c := range candidates {
		if bucket < c.release.Experiment.RolloutPercentage {
			return Result{
				Release:     c.release,
				Specificity: c.specificity,
				Bucket:      bucket,
				Skipped:     i,
			}, true
		}
	}
	return Result{Bucket: bucket}, false
}

// evaluate applies the mandatory check and the match vector to one release.
// It returns the specificity and whether the release stays a candidate.
func (s *Snapshot) evaluate(rel *domain.Release, ctx map[string]string) (int, bool) {
	specificity := 0
	prefixOpen := true

	for _, dim := range s.dimensions {
		want, filtered := rel.DimensionFilter[dim.Key]
		if !filtered {
			prefixOpen = false
			continue
		}

		matched, present := s.match(dim, want, ctx)
		if !present {
			if dim.Mandatory {
				return 0, false
			}
			prefixOpen = false
			continue
		}
		if !matched {
			return 0, false
		}
		if prefixOpen {
			specificity++
		}
	}

	// A filter key that names no registered dimension can never match.
	for key := range rel.DimensionFilter {
		if _, ok := s.byKey[key]; !ok {
			return 0, false
		}
	}
	return specificity, true
}

// match tests one filter entry. present is false when the context does not
// carry the value needed to decide.
func (s *Snapshot) match(dim *domain.Dimension, want string, ctx map[string]string) (matched, present bool) {
	if !dim.IsCohort() {
		got, ok := ctx[dim.Key]
		if !ok {
			return false, false
		}
		return got == want, true
	}

	got, ok := ctx[dim.DependsOn]
	if !ok {
		return false, false
	}
	return s.matcher.Match(dim, want, got), true
}
