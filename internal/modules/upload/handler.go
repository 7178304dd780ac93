package upload

import (
	"errors"
	"fmt"
	"net/http"

	"filedepot/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/uploads", h.Upload)
	rg.GET("/uploads", h.ListUploads)
	rg.GET("/uploads/:id", h.GetUpload)
	rg.GET("/uploads/:id/content", h.DownloadUpload)
	rg.DELETE("/uploads/:id", h.DeleteUpload)
	rg.POST("/uploads/bulk-delete", h.BulkDeleteUploads)
}

func (h *Handler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Multipart field 'file' is required")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unreadable upload")
		return
	}
	defer src.Close()

	rec, err := h.service.Upload(c.Request.Context(), IngestRequest{
		OriginalName: fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		DeclaredSize: fileHeader.Size,
		Body:         src,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"upload": toUploadResponse(rec)})
}

func (h *Handler) GetUpload(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"upload": toUploadResponse(rec)})
}

func (h *Handler) ListUploads(c *gin.Context) {
	var q ListUploadsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid pagination parameters")
		return
	}

	records, err := h.service.List(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		h.writeError(c, err)
		return
	}

	uploads := make([]UploadResponse, 0, len(records))
	for i := range records {
		uploads = append(uploads, toUploadResponse(&records[i]))
	}
	response.Success(c, http.StatusOK, gin.H{"uploads": uploads})
}

func (h *Handler) DownloadUpload(c *gin.Context) {
	rec, blob, err := h.service.OpenContent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer blob.Close()

	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	extraHeaders := map[string]string{
		// Display name only; the blob's real path never leaves the server.
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", rec.OriginalName),
	}
	c.DataFromReader(http.StatusOK, rec.SizeBytes, contentType, blob, extraHeaders)
}

func (h *Handler) DeleteUpload(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// BulkDeleteUploads removes a batch of uploads in one call. Ids that no
// longer exist are reported, not treated as failures.
func (h *Handler) BulkDeleteUploads(c *gin.Context) {
	var req BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Field 'ids' must be a non-empty list")
		return
	}

	deleted, missing, err := h.service.DeleteMany(c.Request.Context(), req.IDs)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"deleted_count": len(deleted),
		"deleted":       deleted,
		"missing":       missing,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEmptyFile):
		response.Error(c, http.StatusBadRequest, "EMPTY_FILE", "File is empty")
	case errors.Is(err, ErrPayloadTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Payload exceeds the configured maximum")
	case errors.Is(err, ErrUnsupportedType):
		response.Error(c, http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", "Content type is not allowed")
	case errors.Is(err, ErrTruncatedStream):
		response.Error(c, http.StatusBadRequest, "TRUNCATED_STREAM", "Stream ended before the declared length")
	case errors.Is(err, ErrDeadlineExceeded):
		response.Error(c, http.StatusRequestTimeout, "DEADLINE_EXCEEDED", "Upload stream stalled past the deadline")
	case errors.Is(err, ErrStoreUnavailable):
		response.Error(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Metadata store is unavailable")
	case errors.Is(err, ErrNotFound):
		response.Error(c, http.StatusNotFound, "NOT_FOUND", "Upload not found")
	default:
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process upload")
	}
}
