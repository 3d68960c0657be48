package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// Key layout.
const (
	prefixDimension = "dim/"
	prefixRelease   = "rel/"
	prefixFile      = "file/"
	prefixGroup     = "grp/"
	prefixPackage   = "pkg/"
)

func dimensionKey(key string) []byte { return []byte(prefixDimension + key) }
func releaseKey(id string) []byte    { return []byte(prefixRelease + id) }
func groupKey(id string) []byte      { return []byte(prefixGroup + id) }

// filePrefix ends with '@', which file paths never contain, so one path is
// never a key prefix of another.
func filePrefix(path string) string { return prefixFile + path + "@" }
func fileKey(path string, version int) []byte {
	return []byte(fmt.Sprintf("%s%010d", filePrefix(path), version))
}

func packagePrefix(groupID string) string { return prefixPackage + groupID + "/" }
func packageKey(groupID string, version int) []byte {
	return []byte(fmt.Sprintf("%s%010d", packagePrefix(groupID), version))
}

// CatalogStore persists dimensions, releases, files and packages in a
// KVEngine. Records are CBOR encoded.
type CatalogStore struct {
	kv KVEngine
}

// NewCatalogStore creates a catalog over kv.
func NewCatalogStore(kv KVEngine) *CatalogStore {
	return &CatalogStore{kv: kv}
}

// ============================================================================
// Dimensions
// ============================================================================

// ListDimensions returns every registered dimension.
func (s *CatalogStore) ListDimensions(ctx context.Context) ([]*domain.Dimension, error) {
	return scanAll[domain.Dimension](ctx, s.kv, prefixDimension)
}

// ApplyDimensions writes put and deletes remove in one transaction.
func (s *CatalogStore) ApplyDimensions(ctx context.Context, put []*domain.Dimension, remove []string) error {
	return s.kv.Update(ctx, func(tx Txn) error {
		for _, key := range remove {
			if err := tx.Delete(dimensionKey(key)); err != nil {
				return err
			}
		}
		for _, d := range put {
			if err := putRecord(tx, dimensionKey(d.Key), d); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// Releases
// ============================================================================

// CreateRelease stores a new release.
func (s *CatalogStore) CreateRelease(ctx context.Context, r *domain.Release) error {
	return s.kv.Update(ctx, func(tx Txn) error {
		if _, err := tx.Get(releaseKey(r.ID)); err == nil {
			return domain.ErrReleaseConflict.WithDetails(r.ID)
		} else if !errors.Is(err, ErrKeyNotFound) {
			return err
		}
		return putRecord(tx, releaseKey(r.ID), r)
	})
}

// GetRelease loads one release.
func (s *CatalogStore) GetRelease(ctx context.Context, id string) (*domain.Release, error) {
	r, err := getRecord[domain.Release](ctx, s.kv, releaseKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, domain.ErrReleaseNotFound.WithDetails(id)
	}
	return r, err
}

// UpdateRelease overwrites an existing release.
func (s *CatalogStore) UpdateRelease(ctx context.Context, r *domain.Release) error {
	return s.kv.Update(ctx, func(tx Txn) error {
		if _, err := tx.Get(releaseKey(r.ID)); errors.Is(err, ErrKeyNotFound) {
			return domain.ErrReleaseNotFound.WithDetails(r.ID)
		} else if err != nil {
			return err
		}
		return putRecord(tx, releaseKey(r.ID), r)
	})
}

// ListReleases returns every release ordered by id.
func (s *CatalogStore) ListReleases(ctx context.Context) ([]*domain.Release, error) {
	return scanAll[domain.Release](ctx, s.kv, prefixRelease)
}

// ============================================================================
// Files
// ============================================================================

// CreateFile stores f under the next version of its path and returns the
// stored record. When f carries a tag the tag moves to the new version.
func (s *CatalogStore) CreateFile(ctx context.Context, f *domain.File) (*domain.File, error) {
	var stored *domain.File
	err := s.kv.Update(ctx, func(tx Txn) error {
		versions, err := txScan[domain.File](tx, filePrefix(f.FilePath))
		if err != nil {
			return err
		}

		next := *f
		next.Version = 1
		if n := len(versions); n > 0 {
			next.Version = versions[n-1].Version + 1
		}
		if next.Tag != "" {
			if err := clearTag(tx, versions, next.Tag); err != nil {
				return err
			}
		}
		if err := putRecord(tx, fileKey(next.FilePath, next.Version), &next); err != nil {
			return err
		}
		stored = &next
		return nil
	})
	return stored, err
}

// GetFile loads an exact file version.
func (s *CatalogStore) GetFile(ctx context.Context, path string, version int) (*domain.File, error) {
	f, err := getRecord[domain.File](ctx, s.kv, fileKey(path, version))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, domain.ErrFileNotFound.WithDetails(domain.FileID(path, version))
	}
	return f, err
}

// LatestFile loads the highest version of path.
func (s *CatalogStore) LatestFile(ctx context.Context, path string) (*domain.File, error) {
	versions, err := scanAll[domain.File](ctx, s.kv, filePrefix(path))
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, domain.ErrFileNotFound.WithDetails(path)
	}
	return versions[len(versions)-1], nil
}

// FileByTag loads the version of path currently carrying tag.
func (s *CatalogStore) FileByTag(ctx context.Context, path, tag string) (*domain.File, error) {
	versions, err := scanAll[domain.File](ctx, s.kv, filePrefix(path))
	if err != nil {
		return nil, err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Tag == tag {
			return versions[i], nil
		}
	}
	return nil, domain.ErrFileNotFound.WithDetailsf("%s@tag:%s", path, tag)
}

// RetagFile moves tag onto path@version in one transaction.
func (s *CatalogStore) RetagFile(ctx context.Context, path string, version int, tag string) (*domain.File, error) {
	var tagged *domain.File
	err := s.kv.Update(ctx, func(tx Txn) error {
		versions, err := txScan[domain.File](tx, filePrefix(path))
		if err != nil {
			return err
		}
		var target *domain.File
		for _, f := range versions {
			if f.Version == version {
				target = f
			}
		}
		if target == nil {
			return domain.ErrFileNotFound.WithDetails(domain.FileID(path, version))
		}
		if err := clearTag(tx, versions, tag); err != nil {
			return err
		}
		target.Tag = tag
		tagged = target
		return putRecord(tx, fileKey(path, version), target)
	})
	return tagged, err
}

// ListFiles returns files whose path starts with pathPrefix.
func (s *CatalogStore) ListFiles(ctx context.Context, pathPrefix string) ([]*domain.File, error) {
	return scanAll[domain.File](ctx, s.kv, prefixFile+pathPrefix)
}

func clearTag(tx Txn, versions []*domain.File, tag string) error {
	for _, f := range versions {
		if f.Tag != tag {
			continue
		}
		f.Tag = ""
		if err := putRecord(tx, fileKey(f.FilePath, f.Version), f); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Package groups and packages
// ============================================================================

// CreateGroup stores a package group. Only one primary group may exist.
func (s *CatalogStore) CreateGroup(ctx context.Context, g *domain.PackageGroup) error {
	return s.kv.Update(ctx, func(tx Txn) error {
		groups, err := txScan[domain.PackageGroup](tx, prefixGroup)
		if err != nil {
			return err
		}
		for _, existing := range groups {
			if existing.ID == g.ID || existing.Name == g.Name {
				return domain.ErrPackageValidation.WithDetailsf("package group %q already exists", g.Name)
			}
			if g.Primary && existing.Primary {
				return domain.ErrPackageValidation.WithDetailsf("primary group already exists: %s", existing.Name)
			}
		}
		return putRecord(tx, groupKey(g.ID), g)
	})
}

// GetGroup loads one package group.
func (s *CatalogStore) GetGroup(ctx context.Context, id string) (*domain.PackageGroup, error) {
	g, err := getRecord[domain.PackageGroup](ctx, s.kv, groupKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, domain.ErrPackageGroupNotFound.WithDetails(id)
	}
	return g, err
}

// ListGroups returns every package group.
func (s *CatalogStore) ListGroups(ctx context.Context) ([]*domain.PackageGroup, error) {
	return scanAll[domain.PackageGroup](ctx, s.kv, prefixGroup)
}

// CreatePackage stores p under the next version of its group.
func (s *CatalogStore) CreatePackage(ctx context.Context, p *domain.Package) (*domain.Package, error) {
	var stored *domain.Package
	err := s.kv.Update(ctx, func(tx Txn) error {
		if _, err := tx.Get(groupKey(p.GroupID)); errors.Is(err, ErrKeyNotFound) {
			return domain.ErrPackageGroupNotFound.WithDetails(p.GroupID)
		} else if err != nil {
			return err
		}

		next := p.Clone()
		next.Version = 1
		if err := tx.Scan([]byte(packagePrefix(p.GroupID)), func(_, value []byte) bool {
			next.Version++
			return true
		}); err != nil {
			return err
		}
		if err := putRecord(tx, packageKey(next.GroupID, next.Version), next); err != nil {
			return err
		}
		stored = next
		return nil
	})
	return stored, err
}

// GetPackage loads one package version.
func (s *CatalogStore) GetPackage(ctx context.Context, groupID string, version int) (*domain.Package, error) {
	p, err := getRecord[domain.Package](ctx, s.kv, packageKey(groupID, version))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, domain.ErrPackageNotFound.WithDetailsf("%s v%d", groupID, version)
	}
	return p, err
}

// ListPackages returns the packages of a group in version order.
func (s *CatalogStore) ListPackages(ctx context.Context, groupID string) ([]*domain.Package, error) {
	return scanAll[domain.Package](ctx, s.kv, packagePrefix(groupID))
}

// ============================================================================
// Record helpers
// ============================================================================

func putRecord(tx Txn, key []byte, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return tx.Set(key, data)
}

func getRecord[T any](ctx context.Context, kv KVEngine, key []byte) (*T, error) {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func scanAll[T any](ctx context.Context, kv KVEngine, prefix string) ([]*T, error) {
	var (
		out    []*T
		decErr error
	)
	err := kv.Scan(ctx, []byte(prefix), func(key, value []byte) bool {
		var v T
		if err := Unmarshal(value, &v); err != nil {
			decErr = fmt.Errorf("decode %s: %w", key, err)
			return false
		}
		out = append(out, &v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decErr
}

func txScan[T any](tx Txn, prefix string) ([]*T, error) {
	var (
		out    []*T
		decErr error
	)
	err := tx.Scan([]byte(prefix), func(key, value []byte) bool {
		var v T
		if err := Unmarshal(value, &v); err != nil {
			decErr = fmt.Errorf("decode %s: %w", key, err)
			return false
		}
		out = append(out, &v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decErr
}

// trimPrefix is strings.TrimPrefix on a byte key.
func trimPrefix(key []byte, prefix string) string {
	return strings.TrimPrefix(string(key), prefix)
}

// nowMillis is the storage clock.
var nowMillis = func() int64 { return time.Now().UnixMilli() }
