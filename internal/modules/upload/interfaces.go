package upload

import (
	"context"
	"io"
	"time"

	"filedepot/internal/domain"
)

// UploadRepository defines the metadata store operations the module needs.
type UploadRepository interface {
	InsertPending(ctx context.Context, rec *domain.UploadRecord) error
	MarkCommitted(ctx context.Context, id string, sizeBytes int64, contentHash string, committedAt time.Time) error
	MarkFailed(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.UploadRecord, error)
	List(ctx context.Context, limit, offset int) ([]domain.UploadRecord, error)
	FindStalePending(ctx context.Context, cutoff time.Time) ([]domain.UploadRecord, error)
	Delete(ctx context.Context, id string) error
}

// Ingestor is the write side of the module: everything that mutates the
// blob directory or the metadata store goes through it.
type Ingestor interface {
	Ingest(ctx context.Context, originalName, contentType string, r io.Reader, declaredSize int64) (*domain.UploadRecord, error)
	Delete(ctx context.Context, id string) error
}
