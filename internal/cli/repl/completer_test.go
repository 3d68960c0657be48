package repl

import (
	"reflect"
	"testing"
)

func TestCompleter(t *testing.T) {
	c := NewCompleter("release list", "release ramp", "resolve", "dimension list")

	tests := []struct {
		prefix string
		want   []string
	}{
		{"re", []string{"release", "resolve"}},
		{"e", []string{"exit"}},
		{"release r", []string{"release ramp"}},
		{"release ", []string{"release list", "release ramp"}},
		{"zzz", nil},
	}
	for _, tt := range tests {
		if got := c.Complete(tt.prefix); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Complete(%q) = %v, want %v", tt.prefix, got, tt.want)
		}
	}

	if !c.Known("dimension") || !c.Known("quit") || c.Known("release list") {
		t.Error("Known() mismatch")
	}
}
