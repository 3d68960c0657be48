package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// WriteBackup streams a zstd-compressed snapshot of engine into w and
// returns the number of uncompressed bytes written.
func WriteBackup(ctx context.Context, engine KVEngine, w io.Writer) (int64, error) {
	snap, err := engine.SaveSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("backup: snapshot: %w", err)
	}
	defer snap.Close()

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("backup: zstd writer: %w", err)
	}

	n, err := io.Copy(enc, snap)
	if err != nil {
		enc.Close()
		return n, fmt.Errorf("backup: copy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("backup: flush: %w", err)
	}
	return n, nil
}

// OpenBackup returns a reader over the uncompressed snapshot in r.
func OpenBackup(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("backup: zstd reader: %w", err)
	}
	return dec.IOReadCloser(), nil
}
