package domain

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// CohortOtherwise is the implicit cohort a value falls into when no defined
// cohort claims it.
const CohortOtherwise = "otherwise"

// CohortType is the shape of a cohort definition.
type CohortType string

const (
	// CohortGroup matches values listed in Members.
	CohortGroup CohortType = "group"

	// CohortCheckpoint matches values at or beyond a threshold.
	CohortCheckpoint CohortType = "checkpoint"
)

// Comparator is the ordering test of a checkpoint cohort.
type Comparator string

const (
	SemverGT Comparator = "semver_gt"
	SemverGE Comparator = "semver_ge"
	StrGT    Comparator = "str_gt"
	StrGE    Comparator = "str_ge"
)

// IsSemver reports whether the comparator orders values as semantic versions.
func (c Comparator) IsSemver() bool {
	return c == SemverGT || c == SemverGE
}

// Valid reports whether c is a known comparator.
func (c Comparator) Valid() bool {
	switch c {
	case SemverGT, SemverGE, StrGT, StrGE:
		return true
	}
	return false
}

// Cohort is one named bucket of a cohort dimension.
type Cohort struct {
	Name       string     `json:"name" cbor:"name"`
	Type       CohortType `json:"type" cbor:"type"`
	Comparator Comparator `json:"comparator,omitempty" cbor:"comparator,omitempty"`
	Value      string     `json:"value,omitempty" cbor:"value,omitempty"`
	Members    []string   `json:"members,omitempty" cbor:"members,omitempty"`
}

func (c Cohort) clone() Cohort {
	c.Members = slices.Clone(c.Members)
	return c
}

// satisfiedBy reports whether value passes the checkpoint test.
func (c Cohort) satisfiedBy(value string) bool {
	if c.Comparator.IsSemver() {
		v, t := canonicalSemver(value), canonicalSemver(c.Value)
		if v == "" || t == "" {
			return false
		}
		cmp := semver.Compare(v, t)
		if c.Comparator == SemverGT {
			return cmp > 0
		}
		return cmp >= 0
	}
	cmp := strings.Compare(value, c.Value)
	if c.Comparator == StrGT {
		return cmp > 0
	}
	return cmp >= 0
}

// canonicalSemver accepts versions with or without the leading "v".
// It returns "" for values that are not valid semantic versions.
func canonicalSemver(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// ValidateCohorts checks a cohort definition list.
func ValidateCohorts(cohorts []Cohort) error {
	if len(cohorts) > MaxCohortsPerDimension {
		return fmt.Errorf("at most %d cohorts are allowed", MaxCohortsPerDimension)
	}
	seen := make(map[string]struct{}, len(cohorts))
	for _, c := range cohorts {
		if c.Name == "" {
			return fmt.Errorf("cohort name is required")
		}
		if c.Name == CohortOtherwise {
			return fmt.Errorf("cohort name %q is reserved", CohortOtherwise)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate cohort %q", c.Name)
		}
		seen[c.Name] = struct{}{}

		switch c.Type {
		case CohortGroup:
			if len(c.Members) == 0 {
				return fmt.Errorf("group cohort %q needs members", c.Name)
			}
		case CohortCheckpoint:
			if !c.Comparator.Valid() {
				return fmt.Errorf("cohort %q has unknown comparator %q", c.Name, c.Comparator)
			}
			if c.Comparator.IsSemver() && canonicalSemver(c.Value) == "" {
				return fmt.Errorf("cohort %q checkpoint %q is not a semantic version", c.Name, c.Value)
			}
			if c.Value == "" {
				return fmt.Errorf("cohort %q checkpoint value is required", c.Name)
			}
		default:
			return fmt.Errorf("cohort %q has unknown type %q", c.Name, c.Type)
		}
	}
	return nil
}

// CohortMatcher decides cohort membership for a cohort dimension given the
// value of the dimension it depends on. Implementations must be pure.
type CohortMatcher interface {
	Match(dim *Dimension, cohort string, value string) bool
}

// DefinitionMatcher evaluates the cohort definitions stored on the dimension.
//
// Groups are tested first in declaration order. Checkpoints are tested from
// the highest threshold down, so each checkpoint owns the range up to the
// next higher one. Values claimed by nothing fall into CohortOtherwise.
type DefinitionMatcher struct{}

// Match implements CohortMatcher.
func (DefinitionMatcher) Match(dim *Dimension, cohort string, value string) bool {
	return AssignCohort(dim, value) == cohort
}

// SortCohorts puts cohorts in evaluation order: groups first in declaration
// order, then checkpoints from the highest threshold down. Equal thresholds
// put the strict comparator first and fall back to the cohort name.
func SortCohorts(cohorts []Cohort) {
	sort.SliceStable(cohorts, func(i, j int) bool {
		return cohortBefore(cohorts[i], cohorts[j])
	})
}

func cohortBefore(a, b Cohort) bool {
	aGroup, bGroup := a.Type != CohortCheckpoint, b.Type != CohortCheckpoint
	if aGroup || bGroup {
		return aGroup && !bGroup
	}
	return checkpointAbove(a, b)
}

// AssignCohort returns the cohort name value falls into. dim.Cohorts must be
// in SortCohorts order; the registry and resolve snapshots keep them that way.
func AssignCohort(dim *Dimension, value string) string {
	for _, c := range dim.Cohorts {
		switch c.Type {
		case CohortGroup:
			if slices.Contains(c.Members, value) {
				return c.Name
			}
		case CohortCheckpoint:
			if c.satisfiedBy(value) {
				return c.Name
			}
		}
	}
	return CohortOtherwise
}

// checkpointAbove is a strict order: semver checkpoints rank ahead of string
// ones, then by threshold, strictness and name.
func checkpointAbove(a, b Cohort) bool {
	aSemver, bSemver := a.Comparator.IsSemver(), b.Comparator.IsSemver()
	if aSemver != bSemver {
		return aSemver
	}
	if aSemver {
		if cmp := semver.Compare(canonicalSemver(a.Value), canonicalSemver(b.Value)); cmp != 0 {
			return cmp > 0
		}
	} else if a.Value != b.Value {
		return a.Value > b.Value
	}
	// Equal thresholds: the strict comparator is the narrower range.
	if aStrict, bStrict := a.Comparator.strict(), b.Comparator.strict(); aStrict != bStrict {
		return aStrict
	}
	return a.Name < b.Name
}

func (c Comparator) strict() bool {
	return c == SemverGT || c == StrGT
}
