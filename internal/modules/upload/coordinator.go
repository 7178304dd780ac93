package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"filedepot/internal/domain"
	"filedepot/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Coordinator is the only component that mutates the metadata store. A
// single mutex serializes metadata writes across the request pool; blob
// I/O always runs outside it so a slow disk write never blocks other
// uploads' bookkeeping.
type Coordinator struct {
	repo  UploadRepository
	blobs *BlobStore

	mu      sync.Mutex
	retries int
	backoff time.Duration
}

func NewCoordinator(repo UploadRepository, blobs *BlobStore, busyRetries int, busyBackoff time.Duration) *Coordinator {
	if busyRetries < 0 {
		busyRetries = 0
	}
	if busyBackoff <= 0 {
		busyBackoff = 50 * time.Millisecond
	}
	return &Coordinator{
		repo:    repo,
		blobs:   blobs,
		retries: busyRetries,
		backoff: busyBackoff,
	}
}

// Ingest runs the two-phase commit for one upload:
//
//  1. reserve id and stored path (in memory only)
//  2. insert a PENDING row under the metadata lock
//  3. stream the blob to disk, outside the lock
//  4. on success, mark the row COMMITTED under the lock
//  5. on failure, remove the blob and mark the row FAILED
//
// A row is never left PENDING when Ingest returns.
func (c *Coordinator) Ingest(ctx context.Context, originalName, contentType string, r io.Reader, declaredSize int64) (*domain.UploadRecord, error) {
	id := uuid.NewString()
	rec := &domain.UploadRecord{
		ID:           id,
		OriginalName: originalName,
		ContentType:  contentType,
		StoredPath:   c.blobs.PathFor(id, originalName),
	}

	if err := c.writeMeta(ctx, func() error { return c.repo.InsertPending(ctx, rec) }); err != nil {
		if repository.IsUniqueViolation(err) {
			log.Printf("upload_defect op=insert_pending id=%s error=%q", id, err)
			return nil, ErrDuplicateID
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrDeadlineExceeded
		}
		return nil, err
	}

	sizeBytes, contentHash, err := c.blobs.Store(ctx, rec.StoredPath, r, declaredSize)
	if err != nil {
		c.rollback(rec)
		return nil, err
	}

	committedAt := time.Now().UTC()
	err = c.writeMeta(ctx, func() error {
		return c.repo.MarkCommitted(ctx, id, sizeBytes, contentHash, committedAt)
	})
	if err != nil {
		c.rollback(rec)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("upload_defect op=mark_committed id=%s error=%q", id, "pending row vanished")
			return nil, ErrNotFound
		}
		// The stream deadline also covers the commit itself; an upload
		// that ran out of time here failed for the same reason as a
		// stalled stream.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrDeadlineExceeded
		}
		return nil, err
	}

	rec.SizeBytes = sizeBytes
	rec.ContentHash = contentHash
	rec.Status = domain.UploadCommitted
	rec.CreatedAt = committedAt
	rec.UpdatedAt = committedAt
	return rec, nil
}

// Delete removes a record and its blob. This is the explicit
// administrative operation; committed records are otherwise immutable.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	rec, err := c.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := c.blobs.Remove(rec.StoredPath); err != nil {
		log.Printf("upload_cleanup op=delete id=%s error=%q", id, err)
	}
	err = c.writeMeta(ctx, func() error { return c.repo.Delete(ctx, id) })
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// rollback runs the failure path for a reserved upload: best-effort blob
// removal, then the PENDING row is resolved to FAILED. Cleanup uses a
// fresh context so a dead request context cannot strand the row.
func (c *Coordinator) rollback(rec *domain.UploadRecord) {
	if err := c.blobs.Remove(rec.StoredPath); err != nil {
		log.Printf("upload_cleanup op=remove_blob id=%s error=%q", rec.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.writeMeta(ctx, func() error { return c.repo.MarkFailed(ctx, rec.ID) })
	if err != nil {
		// The recovery sweep is the backstop for this row.
		log.Printf("upload_defect op=mark_failed id=%s error=%q", rec.ID, err)
	}
}

// writeMeta applies one metadata mutation under the write lock, retrying
// a bounded number of times when the store file is busy. The lock is not
// held across backoff sleeps.
func (c *Coordinator) writeMeta(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * c.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		c.mu.Lock()
		err = op()
		c.mu.Unlock()
		if !repository.IsBusy(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
