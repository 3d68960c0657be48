package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// DimensionKind distinguishes dimensions whose values come straight from the
// device context from dimensions whose values are derived from another one.
type DimensionKind string

const (
	// DimensionStandard takes its value directly from the device context.
	DimensionStandard DimensionKind = "standard"

	// DimensionCohort derives a cohort name from the value of the standard
	// dimension it depends on.
	DimensionCohort DimensionKind = "cohort"
)

// Dimension constraints.
const (
	MaxDimensionKeyLength   = 64
	MaxDimensionDescription = 512
	MaxCohortsPerDimension  = 64
)

var dimensionKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]*$`)

// DimensionSchema optionally constrains the values a release filter may use.
type DimensionSchema struct {
	Type string   `json:"type" cbor:"type"`
	Enum []string `json:"enum,omitempty" cbor:"enum,omitempty"`
}

// Allows reports whether value satisfies the schema.
func (s *DimensionSchema) Allows(value string) bool {
	if s == nil || len(s.Enum) == 0 {
		return true
	}
	return slices.Contains(s.Enum, value)
}

// Dimension is a named targeting attribute with a global priority.
// Priority 1 is the most significant dimension.
type Dimension struct {
	Key         string           `json:"key" cbor:"key"`
	Priority    int              `json:"priority" cbor:"priority"`
	Kind        DimensionKind    `json:"kind" cbor:"kind"`
	DependsOn   string           `json:"depends_on,omitempty" cbor:"depends_on,omitempty"`
	Mandatory   bool             `json:"mandatory" cbor:"mandatory"`
	Schema      *DimensionSchema `json:"schema,omitempty" cbor:"schema,omitempty"`
	Description string           `json:"description,omitempty" cbor:"description,omitempty"`
	Cohorts     []Cohort         `json:"cohorts,omitempty" cbor:"cohorts,omitempty"`
	CreatedAt   int64            `json:"created_at" cbor:"created_at"`
	UpdatedAt   int64            `json:"updated_at" cbor:"updated_at"`
}

// IsCohort reports whether the dimension is a cohort dimension.
func (d *Dimension) IsCohort() bool {
	return d.Kind == DimensionCohort
}

// Clone returns a deep copy of the dimension.
func (d *Dimension) Clone() *Dimension {
	c := *d
	if d.Schema != nil {
		s := *d.Schema
		s.Enum = slices.Clone(d.Schema.Enum)
		c.Schema = &s
	}
	if d.Cohorts != nil {
		c.Cohorts = make([]Cohort, len(d.Cohorts))
		for i, co := range d.Cohorts {
			c.Cohorts[i] = co.clone()
		}
	}
	return &c
}

// HasCohort reports whether name is a cohort this dimension can produce.
// The fallback cohort is always available.
func (d *Dimension) HasCohort(name string) bool {
	if name == CohortOtherwise {
		return true
	}
	for _, c := range d.Cohorts {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Validate checks the dimension in isolation. Registry-level rules
// (priority density, dependency existence) are checked by the registry.
func (d *Dimension) Validate() error {
	var violations []string

	if d.Key == "" {
		violations = append(violations, "key is required")
	} else {
		if len(d.Key) > MaxDimensionKeyLength {
			violations = append(violations, fmt.Sprintf("key exceeds %d characters", MaxDimensionKeyLength))
		}
		if !dimensionKeyPattern.MatchString(d.Key) {
			violations = append(violations, "key must match [a-z][a-z0-9_.-]*")
		}
	}

	if d.Priority < 0 {
		violations = append(violations, "priority must not be negative")
	}

	if len(d.Description) > MaxDimensionDescription {
		violations = append(violations, fmt.Sprintf("description exceeds %d characters", MaxDimensionDescription))
	}

	if d.Schema != nil && d.Schema.Type != "" && d.Schema.Type != "string" {
		violations = append(violations, "schema type must be string")
	}

	switch d.Kind {
	case DimensionStandard:
		if d.DependsOn != "" {
			violations = append(violations, "standard dimension cannot depend on another dimension")
		}
		if len(d.Cohorts) > 0 {
			violations = append(violations, "standard dimension cannot define cohorts")
		}
	case DimensionCohort:
		if d.DependsOn == "" {
			violations = append(violations, "cohort dimension requires depends_on")
		}
		if d.DependsOn == d.Key && d.Key != "" {
			violations = append(violations, "dimension cannot depend on itself")
		}
		if err := ValidateCohorts(d.Cohorts); err != nil {
			violations = append(violations, err.Error())
		}
	default:
		violations = append(violations, fmt.Sprintf("unknown kind %q", d.Kind))
	}

	if len(violations) > 0 {
		return ErrDimensionValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}
