package domain

import "strings"

// FileRef is a file as seen by a device.
type FileRef struct {
	URL      string `json:"url" cbor:"url"`
	FilePath string `json:"file_path" cbor:"file_path"`
	Checksum string `json:"checksum,omitempty" cbor:"checksum,omitempty"`
	Size     int64  `json:"size,omitempty" cbor:"size,omitempty"`
}

// NewFileRef projects a stored file onto its device-facing form.
func NewFileRef(f *File) FileRef {
	return FileRef{URL: f.URL, FilePath: f.FilePath, Checksum: f.Checksum, Size: f.Size}
}

// PackageRef is the package block of a release config.
type PackageRef struct {
	Name       string         `json:"name" cbor:"name"`
	Version    int            `json:"version" cbor:"version"`
	Properties map[string]any `json:"properties,omitempty" cbor:"properties,omitempty"`
	Index      FileRef        `json:"index" cbor:"index"`
	Important  []FileRef      `json:"important" cbor:"important"`
	Lazy       []FileRef      `json:"lazy" cbor:"lazy"`
}

// ReleaseConfig is the manifest a device downloads and applies.
type ReleaseConfig struct {
	Version   string          `json:"version" cbor:"version"`
	Config    ReleaseSettings `json:"config" cbor:"config"`
	Package   PackageRef      `json:"package" cbor:"package"`
	Resources []FileRef       `json:"resources" cbor:"resources"`
}

// RequiredFiles returns the files that must be verified before apply.
func (rc *ReleaseConfig) RequiredFiles() []FileRef {
	files := make([]FileRef, 0, 1+len(rc.Package.Important))
	files = append(files, rc.Package.Index)
	return append(files, rc.Package.Important...)
}

// DeferredFiles returns lazy package files and resources, fetched after boot.
func (rc *ReleaseConfig) DeferredFiles() []FileRef {
	files := make([]FileRef, 0, len(rc.Package.Lazy)+len(rc.Resources))
	files = append(files, rc.Package.Lazy...)
	return append(files, rc.Resources...)
}

// Validate checks the manifest a device received before acting on it.
func (rc *ReleaseConfig) Validate() error {
	var violations []string
	if rc.Config.Version == "" {
		violations = append(violations, "config.version is required")
	}
	if rc.Package.Version <= 0 {
		violations = append(violations, "package.version must be positive")
	}
	if rc.Package.Index.FilePath == "" {
		violations = append(violations, "package.index is required")
	}
	for _, f := range append(rc.RequiredFiles(), rc.DeferredFiles()...) {
		if f.FilePath == "" {
			continue
		}
		if err := ValidateFilePath(f.FilePath); err != nil {
			violations = append(violations, err.Error())
		}
		switch {
		case f.Checksum == "" && f.Size == 0:
		case f.Checksum == "" || f.Size <= 0:
			violations = append(violations, "checksum and size must be set together for "+f.FilePath)
		case !ValidChecksum(f.Checksum):
			violations = append(violations, "invalid checksum for "+f.FilePath)
		}
	}
	if len(violations) > 0 {
		return ErrConfigFetch.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}
