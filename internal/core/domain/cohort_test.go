package domain

import "testing"

func appVersionCohorts() *Dimension {
	d := &Dimension{
		Key:       "app_cohort",
		Kind:      DimensionCohort,
		DependsOn: "app_version",
		Cohorts: []Cohort{
			{Name: "internal", Type: CohortGroup, Members: []string{"0.0.1-dev"}},
			{Name: "legacy", Type: CohortCheckpoint, Comparator: SemverGE, Value: "1.0.0"},
			{Name: "modern", Type: CohortCheckpoint, Comparator: SemverGE, Value: "2.0.0"},
			{Name: "edge", Type: CohortCheckpoint, Comparator: SemverGT, Value: "3.0.0"},
		},
	}
	SortCohorts(d.Cohorts)
	return d
}

func TestAssignCohort(t *testing.T) {
	dim := appVersionCohorts()

	tests := []struct {
		value string
		want  string
	}{
		{"0.0.1-dev", "internal"},
		{"0.9.0", CohortOtherwise},
		{"1.0.0", "legacy"},
		{"1.9.9", "legacy"},
		{"v2.0.0", "modern"},
		{"2.5", "modern"},
		{"3.0.0", "modern"},
		{"3.0.1", "edge"},
		{"not-a-version", CohortOtherwise},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := AssignCohort(dim, tt.value); got != tt.want {
				t.Errorf("AssignCohort(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestAssignCohort_StringCheckpoints(t *testing.T) {
	dim := &Dimension{
		Key:       "tier",
		Kind:      DimensionCohort,
		DependsOn: "plan",
		Cohorts: []Cohort{
			{Name: "upper", Type: CohortCheckpoint, Comparator: StrGE, Value: "m"},
			{Name: "top", Type: CohortCheckpoint, Comparator: StrGT, Value: "t"},
		},
	}
	SortCohorts(dim.Cohorts)

	if got := AssignCohort(dim, "a"); got != CohortOtherwise {
		t.Errorf("got %q, want otherwise", got)
	}
	if got := AssignCohort(dim, "m"); got != "upper" {
		t.Errorf("got %q, want upper", got)
	}
	if got := AssignCohort(dim, "t"); got != "upper" {
		t.Errorf("got %q, want upper (str_gt is strict)", got)
	}
	if got := AssignCohort(dim, "z"); got != "top" {
		t.Errorf("got %q, want top", got)
	}
}

func TestSortCohorts(t *testing.T) {
	cohorts := []Cohort{
		{Name: "v2-wide", Type: CohortCheckpoint, Comparator: SemverGE, Value: "2.0.0"},
		{Name: "staff", Type: CohortGroup, Members: []string{"2.0.0"}},
		{Name: "v2-b", Type: CohortCheckpoint, Comparator: SemverGT, Value: "v2.0.0"},
		{Name: "v1", Type: CohortCheckpoint, Comparator: SemverGE, Value: "1.0.0"},
		{Name: "v2-a", Type: CohortCheckpoint, Comparator: SemverGT, Value: "2.0.0"},
		{Name: "qa", Type: CohortGroup, Members: []string{"1.0.0"}},
	}
	SortCohorts(cohorts)

	want := []string{"staff", "qa", "v2-a", "v2-b", "v2-wide", "v1"}
	for i, c := range cohorts {
		if c.Name != want[i] {
			t.Fatalf("order[%d] = %q, want %q (full order %v)", i, c.Name, want[i], cohortNames(cohorts))
		}
	}
}

func TestAssignCohort_EqualThresholdsAreDeterministic(t *testing.T) {
	a := Cohort{Name: "a", Type: CohortCheckpoint, Comparator: SemverGT, Value: "2.0.0"}
	b := Cohort{Name: "b", Type: CohortCheckpoint, Comparator: SemverGT, Value: "2.0"}

	for _, order := range [][]Cohort{{a, b}, {b, a}} {
		dim := &Dimension{Key: "c", Kind: DimensionCohort, DependsOn: "v", Cohorts: order}
		SortCohorts(dim.Cohorts)
		if got := AssignCohort(dim, "2.1.0"); got != "a" {
			t.Errorf("input %v: AssignCohort = %q, want a", cohortNames(order), got)
		}
	}
}

func cohortNames(cohorts []Cohort) []string {
	names := make([]string, len(cohorts))
	for i, c := range cohorts {
		names[i] = c.Name
	}
	return names
}

func TestDefinitionMatcher_BetaGroup(t *testing.T) {
	dim := &Dimension{
		Key:       "beta_cohort",
		Kind:      DimensionCohort,
		DependsOn: "user_id",
		Cohorts: []Cohort{
			{Name: "true", Type: CohortGroup, Members: []string{"u-1", "u-2"}},
		},
	}

	var m CohortMatcher = DefinitionMatcher{}
	if !m.Match(dim, "true", "u-2") {
		t.Error("u-2 should be in the beta cohort")
	}
	if m.Match(dim, "true", "u-3") {
		t.Error("u-3 should not be in the beta cohort")
	}
	if !m.Match(dim, CohortOtherwise, "u-3") {
		t.Error("u-3 should fall into otherwise")
	}
}

func TestValidateCohorts(t *testing.T) {
	tests := []struct {
		name    string
		cohorts []Cohort
		wantErr bool
	}{
		{"valid", appVersionCohorts().Cohorts, false},
		{"empty name", []Cohort{{Type: CohortGroup, Members: []string{"a"}}}, true},
		{"reserved name", []Cohort{{Name: CohortOtherwise, Type: CohortGroup, Members: []string{"a"}}}, true},
		{"duplicate", []Cohort{
			{Name: "a", Type: CohortGroup, Members: []string{"x"}},
			{Name: "a", Type: CohortGroup, Members: []string{"y"}},
		}, true},
		{"group without members", []Cohort{{Name: "a", Type: CohortGroup}}, true},
		{"bad comparator", []Cohort{{Name: "a", Type: CohortCheckpoint, Comparator: "lt", Value: "1"}}, true},
		{"bad semver", []Cohort{{Name: "a", Type: CohortCheckpoint, Comparator: SemverGE, Value: "abc"}}, true},
		{"unknown type", []Cohort{{Name: "a", Type: "range"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCohorts(tt.cohorts)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCohorts() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
