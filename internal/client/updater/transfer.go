package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// DefaultConcurrency bounds parallel file downloads.
const DefaultConcurrency = 4

// fetchFile streams ref into dest, hashing while writing. The file is
// written to a temporary name and renamed once its checksum and size match.
func fetchFile(ctx context.Context, dl Downloader, ref domain.FileRef, dest string) error {
	body, err := dl.Download(ctx, ref.URL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.ErrDownload.WithDetails(ref.FilePath).WithCause(err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", ref.FilePath, err)
	}
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", ref.FilePath, err)
	}

	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(f, h), body)
	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.ErrDownload.WithDetails(ref.FilePath).WithCause(copyErr)
	}

	if err := checkDigest(ref, n, hex.EncodeToString(h.Sum(nil))); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// verifyFile re-hashes a stored file.
func verifyFile(ref domain.FileRef, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return domain.ErrIntegrity.WithDetailsf("%s: missing after download", ref.FilePath).WithCause(err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return domain.ErrIntegrity.WithDetailsf("%s: unreadable", ref.FilePath).WithCause(err)
	}
	return checkDigest(ref, n, hex.EncodeToString(h.Sum(nil)))
}

func checkDigest(ref domain.FileRef, size int64, sum string) error {
	if ref.Checksum == "" {
		return nil
	}
	if size != ref.Size {
		return domain.ErrIntegrity.WithDetailsf("%s: size %d, want %d", ref.FilePath, size, ref.Size)
	}
	if sum != ref.Checksum {
		return domain.ErrIntegrity.WithDetailsf("%s: checksum mismatch", ref.FilePath)
	}
	return nil
}

// fetchAll downloads refs into dir in parallel. The first failure cancels
// the remaining transfers.
func fetchAll(ctx context.Context, dl Downloader, refs []domain.FileRef, dir string, limit int) error {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, ref := range refs {
		g.Go(func() error {
			return fetchFile(gctx, dl, ref, localPath(dir, ref.FilePath))
		})
	}
	return g.Wait()
}

// verifyAll re-hashes every ref below dir.
func verifyAll(refs []domain.FileRef, dir string) error {
	for _, ref := range refs {
		if err := verifyFile(ref, localPath(dir, ref.FilePath)); err != nil {
			return err
		}
	}
	return nil
}
