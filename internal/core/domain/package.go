package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Package constraints.
const (
	// MaxPackageFiles bounds important + lazy entries of a package.
	MaxPackageFiles = 1024

	GroupIDPrefix = "grp-"
)

// GenerateGroupID returns "grp-" followed by a lowercase ULID.
func GenerateGroupID() (string, error) {
	return generateID(GroupIDPrefix)
}

// PackageGroup is a versioned stream of packages. Exactly one group is primary
// and releases bind versions of the primary group.
type PackageGroup struct {
	ID        string `json:"id" cbor:"id"`
	Name      string `json:"name" cbor:"name"`
	Primary   bool   `json:"primary" cbor:"primary"`
	CreatedAt int64  `json:"created_at" cbor:"created_at"`
}

// Package is an immutable set of files delivered together. Index is the
// entry file; Important files must be present before apply; Lazy files are
// fetched after boot is confirmed.
type Package struct {
	GroupID    string         `json:"group_id" cbor:"group_id"`
	Version    int            `json:"version" cbor:"version"`
	Name       string         `json:"name,omitempty" cbor:"name,omitempty"`
	Index      string         `json:"index" cbor:"index"`
	Important  []string       `json:"important,omitempty" cbor:"important,omitempty"`
	Lazy       []string       `json:"lazy,omitempty" cbor:"lazy,omitempty"`
	Properties map[string]any `json:"properties,omitempty" cbor:"properties,omitempty"`
	CreatedAt  int64          `json:"created_at" cbor:"created_at"`
}

// Clone returns a deep copy.
func (p *Package) Clone() *Package {
	c := *p
	c.Important = slices.Clone(p.Important)
	c.Lazy = slices.Clone(p.Lazy)
	c.Properties = maps.Clone(p.Properties)
	return &c
}

// FileIDs returns every file id of the package, index first.
func (p *Package) FileIDs() []string {
	ids := make([]string, 0, 1+len(p.Important)+len(p.Lazy))
	ids = append(ids, p.Index)
	ids = append(ids, p.Important...)
	return append(ids, p.Lazy...)
}

// Validate checks that the package references are well formed and that no
// file appears twice.
func (p *Package) Validate() error {
	var violations []string

	if p.GroupID == "" {
		violations = append(violations, "group_id is required")
	}
	if p.Index == "" {
		violations = append(violations, "index is required")
	}
	if n := len(p.Important) + len(p.Lazy); n > MaxPackageFiles {
		violations = append(violations, fmt.Sprintf("package lists %d files (max %d)", n, MaxPackageFiles))
	}

	seen := make(map[string]struct{})
	for _, id := range p.FileIDs() {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			violations = append(violations, fmt.Sprintf("file %q listed more than once", id))
			continue
		}
		seen[id] = struct{}{}
	}

	if len(violations) > 0 {
		return ErrPackageValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}
