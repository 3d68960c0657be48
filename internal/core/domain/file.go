package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// File constraints.
const (
	MaxFilePathLength = 512
	ChecksumLength    = 64

	// TagLatest is the tag conventionally moved to the newest upload.
	TagLatest = "latest"
)

var (
	checksumPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
	tagPattern      = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
)

// File is one versioned artifact. Checksum and Size are either both set or
// both zero; when set, downloaded bytes must reproduce them exactly.
type File struct {
	FilePath  string            `json:"file_path" cbor:"file_path"`
	Version   int               `json:"version" cbor:"version"`
	Tag       string            `json:"tag,omitempty" cbor:"tag,omitempty"`
	URL       string            `json:"url" cbor:"url"`
	Checksum  string            `json:"checksum,omitempty" cbor:"checksum,omitempty"`
	Size      int64             `json:"size,omitempty" cbor:"size,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" cbor:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at" cbor:"created_at"`
}

// ID returns the canonical "path@version:N" identifier.
func (f *File) ID() string {
	return FileID(f.FilePath, f.Version)
}

// FileID formats the canonical file identifier.
func FileID(path string, version int) string {
	return fmt.Sprintf("%s@version:%d", path, version)
}

// Verified reports whether the file carries integrity data.
func (f *File) Verified() bool {
	return f.Checksum != ""
}

// Validate checks path, url and the checksum/size pair.
func (f *File) Validate() error {
	var violations []string

	if err := ValidateFilePath(f.FilePath); err != nil {
		violations = append(violations, err.Error())
	}
	if f.URL == "" {
		violations = append(violations, "url is required")
	}
	if f.Tag != "" && !tagPattern.MatchString(f.Tag) {
		violations = append(violations, "tag must match [A-Za-z0-9_.-]{1,64}")
	}

	switch {
	case f.Checksum == "" && f.Size == 0:
	case f.Checksum == "" || f.Size == 0:
		violations = append(violations, "checksum and size must be provided together")
	default:
		if !checksumPattern.MatchString(f.Checksum) {
			violations = append(violations, "checksum must be 64 lowercase hex characters")
		}
		if f.Size < 0 {
			violations = append(violations, "size must be positive")
		}
	}

	if len(violations) > 0 {
		return ErrFileValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// ValidateFilePath rejects empty, absolute and escaping paths.
func ValidateFilePath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("file_path is required")
	case len(path) > MaxFilePathLength:
		return fmt.Errorf("file_path exceeds %d characters", MaxFilePathLength)
	case strings.HasPrefix(path, "/"):
		return fmt.Errorf("file_path must be relative")
	case strings.Contains(path, "@"):
		return fmt.Errorf("file_path must not contain '@'")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("file_path has an invalid segment %q", seg)
		}
	}
	return nil
}

// ValidChecksum reports whether s is a lowercase hex SHA-256 digest.
func ValidChecksum(s string) bool {
	return checksumPattern.MatchString(s)
}

// ValidTag reports whether tag is a well-formed file tag.
func ValidTag(tag string) bool {
	return tagPattern.MatchString(tag)
}

// Checksum returns the lowercase hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileKey is a parsed file reference.
//
//	path                latest version
//	path@version:N      exact version
//	path@tag:T          version currently carrying tag T
type FileKey struct {
	Path    string
	Version int
	Tag     string
}

// ParseFileKey parses a file reference.
func ParseFileKey(key string) (FileKey, error) {
	path, selector, found := strings.Cut(key, "@")
	if err := ValidateFilePath(path); err != nil {
		return FileKey{}, ErrFileValidation.WithDetails(err.Error())
	}
	if !found {
		return FileKey{Path: path}, nil
	}

	kind, value, ok := strings.Cut(selector, ":")
	if !ok || value == "" {
		return FileKey{}, ErrFileValidation.WithDetailsf("malformed file key %q", key)
	}
	switch kind {
	case "version":
		v, err := strconv.Atoi(value)
		if err != nil || v <= 0 {
			return FileKey{}, ErrFileValidation.WithDetailsf("invalid version in %q", key)
		}
		return FileKey{Path: path, Version: v}, nil
	case "tag":
		if !tagPattern.MatchString(value) {
			return FileKey{}, ErrFileValidation.WithDetailsf("invalid tag in %q", key)
		}
		return FileKey{Path: path, Tag: value}, nil
	default:
		return FileKey{}, ErrFileValidation.WithDetailsf("unknown selector %q", kind)
	}
}

// String formats the key back to its textual form.
func (k FileKey) String() string {
	switch {
	case k.Version > 0:
		return FileID(k.Path, k.Version)
	case k.Tag != "":
		return k.Path + "@tag:" + k.Tag
	default:
		return k.Path
	}
}
