package service

import (
	"context"
	"maps"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// PackageRepository persists package groups and their packages.
type PackageRepository interface {
	CreateGroup(ctx context.Context, g *domain.PackageGroup) error
	GetGroup(ctx context.Context, id string) (*domain.PackageGroup, error)
	ListGroups(ctx context.Context) ([]*domain.PackageGroup, error)
	CreatePackage(ctx context.Context, p *domain.Package) (*domain.Package, error)
	GetPackage(ctx context.Context, groupID string, version int) (*domain.Package, error)
	ListPackages(ctx context.Context, groupID string) ([]*domain.Package, error)
}

// PackageService manages package groups and package versions.
type PackageService struct {
	repo  PackageRepository
	files *FileService
}

// NewPackageService creates a new PackageService.
func NewPackageService(repo PackageRepository, files *FileService) *PackageService {
	return &PackageService{repo: repo, files: files}
}

// CreateGroupRequest describes a package group. The first group ever
// created becomes primary regardless of Primary.
type CreateGroupRequest struct {
	Name    string
	Primary bool
}

// CreateGroup creates a package group.
func (s *PackageService) CreateGroup(ctx context.Context, req *CreateGroupRequest) (*domain.PackageGroup, error) {
	if req.Name == "" {
		return nil, domain.ErrPackageValidation.WithDetails("name is required")
	}

	groups, err := s.repo.ListGroups(ctx)
	if err != nil {
		return nil, storageError(err)
	}

	id, err := domain.GenerateGroupID()
	if err != nil {
		return nil, err
	}
	g := &domain.PackageGroup{
		ID:        id,
		Name:      req.Name,
		Primary:   req.Primary || len(groups) == 0,
		CreatedAt: nowMillis(),
	}
	if err := s.repo.CreateGroup(ctx, g); err != nil {
		return nil, storageError(err)
	}
	return g, nil
}

// ListGroups returns every package group.
func (s *PackageService) ListGroups(ctx context.Context) ([]*domain.PackageGroup, error) {
	groups, err := s.repo.ListGroups(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	return groups, nil
}

// PrimaryGroup returns the group releases bind to.
func (s *PackageService) PrimaryGroup(ctx context.Context) (*domain.PackageGroup, error) {
	groups, err := s.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Primary {
			return g, nil
		}
	}
	return nil, domain.ErrPackageGroupNotFound.WithDetails("no primary package group")
}

// groupOrPrimary returns the group id to use for a request.
func (s *PackageService) groupOrPrimary(ctx context.Context, groupID string) (string, error) {
	if groupID != "" {
		return groupID, nil
	}
	g, err := s.PrimaryGroup(ctx)
	if err != nil {
		return "", err
	}
	return g.ID, nil
}

// CreatePackageRequest describes a package. File references accept any file
// key form and are pinned to exact versions. An empty GroupID selects the
// primary group.
type CreatePackageRequest struct {
	GroupID    string
	Name       string
	Index      string
	Important  []string
	Lazy       []string
	Properties map[string]any
}

// Create stores the next package version of the group.
func (s *PackageService) Create(ctx context.Context, req *CreatePackageRequest) (*domain.Package, error) {
	// 1. Pick the group
	groupID, err := s.groupOrPrimary(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}

	// 2. Pin every file reference
	if req.Index == "" {
		return nil, domain.ErrPackageValidation.WithDetails("index is required")
	}
	index, err := s.files.Lookup(ctx, req.Index)
	if err != nil {
		return nil, err
	}
	important, err := s.files.Canonicalize(ctx, req.Important)
	if err != nil {
		return nil, err
	}
	lazy, err := s.files.Canonicalize(ctx, req.Lazy)
	if err != nil {
		return nil, err
	}

	p := &domain.Package{
		GroupID:    groupID,
		Name:       req.Name,
		Index:      index.ID(),
		Important:  important,
		Lazy:       lazy,
		Properties: maps.Clone(req.Properties),
		CreatedAt:  nowMillis(),
	}

	// 3. Validate and persist
	if err := p.Validate(); err != nil {
		return nil, err
	}
	stored, err := s.repo.CreatePackage(ctx, p)
	if err != nil {
		return nil, storageError(err)
	}
	return stored, nil
}

// Get returns one package version. An empty groupID selects the primary
// group.
func (s *PackageService) Get(ctx context.Context, groupID string, version int) (*domain.Package, error) {
	groupID, err := s.groupOrPrimary(ctx, groupID)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetPackage(ctx, groupID, version)
	if err != nil {
		return nil, storageError(err)
	}
	return p, nil
}

// List returns the packages of a group in version order.
func (s *PackageService) List(ctx context.Context, groupID string) ([]*domain.Package, error) {
	groupID, err := s.groupOrPrimary(ctx, groupID)
	if err != nil {
		return nil, err
	}
	pkgs, err := s.repo.ListPackages(ctx, groupID)
	if err != nil {
		return nil, storageError(err)
	}
	return pkgs, nil
}
