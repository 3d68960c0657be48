package service

import (
	"context"
	"maps"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// FileRepository persists versioned files.
type FileRepository interface {
	CreateFile(ctx context.Context, f *domain.File) (*domain.File, error)
	GetFile(ctx context.Context, path string, version int) (*domain.File, error)
	LatestFile(ctx context.Context, path string) (*domain.File, error)
	FileByTag(ctx context.Context, path, tag string) (*domain.File, error)
	RetagFile(ctx context.Context, path string, version int, tag string) (*domain.File, error)
	ListFiles(ctx context.Context, pathPrefix string) ([]*domain.File, error)
}

// FileService registers file versions and resolves file keys.
type FileService struct {
	repo FileRepository
}

// NewFileService creates a new FileService.
func NewFileService(repo FileRepository) *FileService {
	return &FileService{repo: repo}
}

// CreateFileRequest describes an uploaded artifact. The version is assigned
// by the server.
type CreateFileRequest struct {
	FilePath string
	URL      string
	Checksum string
	Size     int64
	Tag      string
	Metadata map[string]string
}

// Create stores the next version of req.FilePath.
func (s *FileService) Create(ctx context.Context, req *CreateFileRequest) (*domain.File, error) {
	f := &domain.File{
		FilePath:  req.FilePath,
		URL:       req.URL,
		Checksum:  req.Checksum,
		Size:      req.Size,
		Tag:       req.Tag,
		Metadata:  maps.Clone(req.Metadata),
		CreatedAt: nowMillis(),
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	stored, err := s.repo.CreateFile(ctx, f)
	if err != nil {
		return nil, storageError(err)
	}
	return stored, nil
}

// Lookup resolves a file key ("path", "path@version:N" or "path@tag:T").
func (s *FileService) Lookup(ctx context.Context, key string) (*domain.File, error) {
	fk, err := domain.ParseFileKey(key)
	if err != nil {
		return nil, err
	}

	var f *domain.File
	switch {
	case fk.Version > 0:
		f, err = s.repo.GetFile(ctx, fk.Path, fk.Version)
	case fk.Tag != "":
		f, err = s.repo.FileByTag(ctx, fk.Path, fk.Tag)
	default:
		f, err = s.repo.LatestFile(ctx, fk.Path)
	}
	if err != nil {
		return nil, storageError(err)
	}
	return f, nil
}

// Tag moves tag onto the file key resolves to.
func (s *FileService) Tag(ctx context.Context, key, tag string) (*domain.File, error) {
	if !domain.ValidTag(tag) {
		return nil, domain.ErrFileValidation.WithDetails("tag must match [A-Za-z0-9_.-]{1,64}")
	}

	f, err := s.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	tagged, err := s.repo.RetagFile(ctx, f.FilePath, f.Version, tag)
	if err != nil {
		return nil, storageError(err)
	}
	return tagged, nil
}

// List returns files whose path starts with prefix.
func (s *FileService) List(ctx context.Context, prefix string) ([]*domain.File, error) {
	files, err := s.repo.ListFiles(ctx, prefix)
	if err != nil {
		return nil, storageError(err)
	}
	return files, nil
}

// Canonicalize resolves every key to its "path@version:N" id. Version
// pinning makes packages and releases immune to later tag moves.
func (s *FileService) Canonicalize(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids := make([]string, len(keys))
	for i, key := range keys {
		f, err := s.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		ids[i] = f.ID()
	}
	return ids, nil
}
