package updater

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

const (
	stagingDirName   = "staging"
	packagesDirName  = "packages"
	resourcesDirName = "resources"
)

// Workspace is the on-device directory layout:
//
//	<root>/staging/<attempt>/...   files of an in-flight attempt
//	<root>/packages/<version>/...  committed package files
//	<root>/resources/...           release resources, shared across versions
type Workspace struct {
	root string
}

// OpenWorkspace creates the layout under root if needed.
func OpenWorkspace(root string) (*Workspace, error) {
	w := &Workspace{root: root}
	for _, dir := range []string{stagingDirName, packagesDirName, resourcesDirName} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}
	return w, nil
}

// Root returns the workspace root.
func (w *Workspace) Root() string { return w.root }

// StagingDir returns the staging directory of an attempt.
func (w *Workspace) StagingDir(attemptID string) string {
	return filepath.Join(w.root, stagingDirName, attemptID)
}

// PackageDir returns the directory of a committed package version.
func (w *Workspace) PackageDir(version int) string {
	return filepath.Join(w.root, packagesDirName, strconv.Itoa(version))
}

// ResourcePath returns where a release resource is stored.
func (w *Workspace) ResourcePath(filePath string) string {
	return filepath.Join(w.root, resourcesDirName, filepath.FromSlash(filePath))
}

// HasPackage reports whether version is committed.
func (w *Workspace) HasPackage(version int) bool {
	info, err := os.Stat(w.PackageDir(version))
	return err == nil && info.IsDir()
}

// NewStaging creates an empty staging directory for an attempt.
func (w *Workspace) NewStaging(attemptID string) (string, error) {
	dir := w.StagingDir(attemptID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("reset staging: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging: %w", err)
	}
	return dir, nil
}

// Commit moves a staging directory into place as package version. A
// directory left behind for the same version by an interrupted attempt is
// replaced.
func (w *Workspace) Commit(staging string, version int) error {
	target := w.PackageDir(version)
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove stale package %d: %w", version, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return fmt.Errorf("commit package %d: %w", version, err)
	}
	return nil
}

// Discard removes a staging directory.
func (w *Workspace) Discard(staging string) {
	_ = os.RemoveAll(staging)
}

// CleanStaging removes every staging directory.
func (w *Workspace) CleanStaging() error {
	dir := filepath.Join(w.root, stagingDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		errs = append(errs, os.RemoveAll(filepath.Join(dir, e.Name())))
	}
	return errors.Join(errs...)
}

// Prune removes every committed package version not in keep.
func (w *Workspace) Prune(keep ...int) error {
	dir := filepath.Join(w.root, packagesDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
outer:
	for _, e := range entries {
		v, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		for _, k := range keep {
			if v == k {
				continue outer
			}
		}
		errs = append(errs, os.RemoveAll(filepath.Join(dir, e.Name())))
	}
	return errors.Join(errs...)
}

// ReadPackageFile reads a file of a committed package.
func (w *Workspace) ReadPackageFile(version int, filePath string) ([]byte, error) {
	return readUnder(w.PackageDir(version), filePath)
}

// ReadResource reads a stored release resource.
func (w *Workspace) ReadResource(filePath string) ([]byte, error) {
	return readUnder(filepath.Join(w.root, resourcesDirName), filePath)
}

func readUnder(dir, filePath string) ([]byte, error) {
	if err := domain.ValidateFilePath(filePath); err != nil {
		return nil, domain.ErrFileUnavailable.WithDetails(err.Error())
	}
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(filePath)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrFileUnavailable.WithDetails(filePath)
	}
	return data, err
}

// localPath maps a manifest path below dir.
func localPath(dir, filePath string) string {
	return filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(filePath, "/")))
}
