package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// BlobStore owns the managed upload directory. It is the only component
// allowed to create, rename or remove files inside it.
type BlobStore struct {
	dir string
}

func NewBlobStore(dir string) (*BlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

var extPattern = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,10}$`)

// PathFor derives the relative stored path from the generated id. The
// caller-supplied name contributes at most a sanitized extension hint,
// never path segments.
func (s *BlobStore) PathFor(id, originalName string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return id + ext
}

// Store streams r into a temporary file in the managed directory, hashing
// and counting as it goes, then renames it onto storedPath. Readers of the
// directory see either no file or the complete file. If declaredSize is
// non-negative and the stream ends short of it, the write is discarded and
// ErrTruncatedStream is returned.
func (s *BlobStore) Store(ctx context.Context, storedPath string, r io.Reader, declaredSize int64) (int64, string, error) {
	tmp, err := os.CreateTemp(s.dir, ".incoming-*")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	discard := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), &deadlineReader{ctx: ctx, r: r})
	if err != nil {
		discard()
		switch {
		case errors.Is(err, ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
			return 0, "", ErrDeadlineExceeded
		case errors.Is(err, ErrPayloadTooLarge):
			return 0, "", ErrPayloadTooLarge
		case errors.Is(err, io.ErrUnexpectedEOF):
			return 0, "", ErrTruncatedStream
		default:
			return 0, "", fmt.Errorf("write blob: %w", err)
		}
	}
	if declaredSize >= 0 && written < declaredSize {
		discard()
		return 0, "", ErrTruncatedStream
	}

	if err := tmp.Sync(); err != nil {
		discard()
		return 0, "", fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, storedPath)); err != nil {
		os.Remove(tmpName)
		return 0, "", fmt.Errorf("publish blob: %w", err)
	}

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open returns a reader over a published blob.
func (s *BlobStore) Open(storedPath string) (*os.File, error) {
	return os.Open(filepath.Join(s.dir, filepath.Base(storedPath)))
}

// Remove deletes a stored blob. Removing an absent blob is not an error,
// the rollback path may run after a write that never published.
func (s *BlobStore) Remove(storedPath string) error {
	if storedPath == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, filepath.Base(storedPath)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// deadlineReader aborts a stalled copy: every read first checks whether
// the upload's context expired.
type deadlineReader struct {
	ctx context.Context
	r   io.Reader
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	if err := d.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, ErrDeadlineExceeded
		}
		return 0, err
	}
	return d.r.Read(p)
}
