package upload

import (
	"time"

	"filedepot/internal/domain"
)

type UploadResponse struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	ContentHash  string    `json:"content_hash"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type ListUploadsQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

type BulkDeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

func toUploadResponse(rec *domain.UploadRecord) UploadResponse {
	return UploadResponse{
		ID:           rec.ID,
		OriginalName: rec.OriginalName,
		ContentType:  rec.ContentType,
		SizeBytes:    rec.SizeBytes,
		ContentHash:  rec.ContentHash,
		Status:       string(rec.Status),
		CreatedAt:    rec.CreatedAt,
	}
}
