package domain

import "time"

type UploadStatus string

const (
	UploadPending   UploadStatus = "PENDING"
	UploadCommitted UploadStatus = "COMMITTED"
	UploadFailed    UploadStatus = "FAILED"
)

// UploadRecord is one accepted (or attempted) upload. A COMMITTED record
// always points at a fully written blob whose digest equals ContentHash;
// a FAILED record has no blob on disk.
type UploadRecord struct {
	ID           string       `json:"id"`
	OriginalName string       `json:"original_name"`
	StoredPath   string       `json:"stored_path"`
	ContentType  string       `json:"content_type,omitempty"`
	SizeBytes    int64        `json:"size_bytes"`
	ContentHash  string       `json:"content_hash"`
	Status       UploadStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
