package domain

import (
	"errors"
	"testing"
)

func TestDimension_Validate(t *testing.T) {
	tests := []struct {
		name    string
		dim     Dimension
		wantErr bool
	}{
		{"standard", Dimension{Key: "region", Kind: DimensionStandard}, false},
		{"cohort", Dimension{Key: "beta", Kind: DimensionCohort, DependsOn: "user_id"}, false},
		{"empty key", Dimension{Kind: DimensionStandard}, true},
		{"uppercase key", Dimension{Key: "Region", Kind: DimensionStandard}, true},
		{"unknown kind", Dimension{Key: "region", Kind: "derived"}, true},
		{"standard with depends_on", Dimension{Key: "region", Kind: DimensionStandard, DependsOn: "x"}, true},
		{"cohort without depends_on", Dimension{Key: "beta", Kind: DimensionCohort}, true},
		{"self dependency", Dimension{Key: "beta", Kind: DimensionCohort, DependsOn: "beta"}, true},
		{"negative priority", Dimension{Key: "region", Kind: DimensionStandard, Priority: -1}, true},
		{"numeric schema", Dimension{Key: "region", Kind: DimensionStandard, Schema: &DimensionSchema{Type: "number"}}, true},
		{"standard with cohorts", Dimension{Key: "region", Kind: DimensionStandard,
			Cohorts: []Cohort{{Name: "a", Type: CohortGroup, Members: []string{"x"}}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dim.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrDimensionValidation) {
				t.Errorf("Validate() error = %v, want ErrDimensionValidation", err)
			}
		})
	}
}

func TestDimension_HasCohortAndSchema(t *testing.T) {
	d := &Dimension{
		Key:       "beta",
		Kind:      DimensionCohort,
		DependsOn: "user_id",
		Cohorts:   []Cohort{{Name: "true", Type: CohortGroup, Members: []string{"u-1"}}},
	}
	if !d.HasCohort("true") || !d.HasCohort(CohortOtherwise) || d.HasCohort("false") {
		t.Error("HasCohort() returned an unexpected result")
	}

	s := &DimensionSchema{Type: "string", Enum: []string{"IN", "US"}}
	if !s.Allows("IN") || s.Allows("FR") {
		t.Error("Allows() should enforce the enum")
	}
	var none *DimensionSchema
	if !none.Allows("anything") {
		t.Error("nil schema should allow any value")
	}

	c := d.Clone()
	c.Cohorts[0].Members[0] = "u-9"
	if d.Cohorts[0].Members[0] != "u-1" {
		t.Error("Clone() should deep copy cohort members")
	}
}
