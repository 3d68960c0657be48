package domain

import (
	"errors"
	"testing"
)

func TestReleaseConfig_Validate(t *testing.T) {
	sum := Checksum([]byte("hello"))
	valid := func() *ReleaseConfig {
		return &ReleaseConfig{
			Version: "r-1",
			Config:  ReleaseSettings{Version: "cfg-1"},
			Package: PackageRef{
				Name:    "main",
				Version: 1,
				Index:   FileRef{URL: "cdn://index", FilePath: "index.html", Checksum: sum, Size: 5},
				Lazy:    []FileRef{{URL: "cdn://hero", FilePath: "img/hero.png"}},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(rc *ReleaseConfig)
	}{
		{"missing config version", func(rc *ReleaseConfig) { rc.Config.Version = "" }},
		{"zero package version", func(rc *ReleaseConfig) { rc.Package.Version = 0 }},
		{"missing index", func(rc *ReleaseConfig) { rc.Package.Index = FileRef{} }},
		{"escaping path", func(rc *ReleaseConfig) { rc.Package.Lazy[0].FilePath = "../etc/passwd" }},
		{"checksum without size", func(rc *ReleaseConfig) { rc.Package.Index.Size = 0 }},
		{"size without checksum", func(rc *ReleaseConfig) { rc.Package.Index.Checksum = "" }},
		{"negative size", func(rc *ReleaseConfig) { rc.Package.Index.Size = -1 }},
		{"bad checksum", func(rc *ReleaseConfig) { rc.Package.Index.Checksum = sum[:10] }},
		{"partial resource", func(rc *ReleaseConfig) {
			rc.Resources = []FileRef{{URL: "cdn://font", FilePath: "font.woff", Size: 12}}
		}},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := valid()
			tt.mutate(rc)
			if err := rc.Validate(); !errors.Is(err, ErrConfigFetch) {
				t.Errorf("Validate() = %v, want ErrConfigFetch", err)
			}
		})
	}
}
