package repository

import (
	"context"
	"strings"
	"time"

	"filedepot/internal/domain"

	"gorm.io/gorm"
)

type UploadRepository struct {
	db *gorm.DB
}

func NewUploadRepository(db *gorm.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

func (r *UploadRepository) DB() *gorm.DB {
	return r.db
}

type uploadModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	OriginalName string    `gorm:"column:original_name"`
	StoredPath   string    `gorm:"column:stored_path;uniqueIndex"`
	ContentType  string    `gorm:"column:content_type"`
	SizeBytes    int64     `gorm:"column:size_bytes"`
	ContentHash  string    `gorm:"column:content_hash"`
	Status       string    `gorm:"column:status;index"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (uploadModel) TableName() string { return "uploads" }

func toDomainUpload(m uploadModel) *domain.UploadRecord {
	return &domain.UploadRecord{
		ID:           m.ID,
		OriginalName: m.OriginalName,
		StoredPath:   m.StoredPath,
		ContentType:  m.ContentType,
		SizeBytes:    m.SizeBytes,
		ContentHash:  m.ContentHash,
		Status:       domain.UploadStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// Migrate creates the uploads table if it does not exist yet.
func (r *UploadRepository) Migrate() error {
	return r.db.AutoMigrate(&uploadModel{})
}

// InsertPending records a freshly reserved upload before any blob bytes
// are written. The row carries only identity fields at this point.
func (r *UploadRepository) InsertPending(ctx context.Context, rec *domain.UploadRecord) error {
	now := time.Now().UTC()
	m := uploadModel{
		ID:           rec.ID,
		OriginalName: rec.OriginalName,
		StoredPath:   rec.StoredPath,
		ContentType:  rec.ContentType,
		Status:       string(domain.UploadPending),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	rec.Status = domain.UploadPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// MarkCommitted promotes a PENDING row after the blob is durably on disk.
// Returns gorm.ErrRecordNotFound if the row vanished or was already resolved.
func (r *UploadRepository) MarkCommitted(ctx context.Context, id string, sizeBytes int64, contentHash string, committedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&uploadModel{}).
		Where("id = ? AND status = ?", id, string(domain.UploadPending)).
		Updates(map[string]any{
			"size_bytes":   sizeBytes,
			"content_hash": contentHash,
			"status":       string(domain.UploadCommitted),
			"created_at":   committedAt,
			"updated_at":   committedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkFailed resolves a PENDING row whose blob write did not complete.
// Already-resolved rows are left untouched.
func (r *UploadRepository) MarkFailed(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&uploadModel{}).
		Where("id = ? AND status = ?", id, string(domain.UploadPending)).
		Updates(map[string]any{
			"status":     string(domain.UploadFailed),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *UploadRepository) GetByID(ctx context.Context, id string) (*domain.UploadRecord, error) {
	var m uploadModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return toDomainUpload(m), nil
}

func (r *UploadRepository) List(ctx context.Context, limit, offset int) ([]domain.UploadRecord, error) {
	var models []uploadModel
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]domain.UploadRecord, 0, len(models))
	for _, m := range models {
		records = append(records, *toDomainUpload(m))
	}
	return records, nil
}

// FindStalePending returns PENDING rows created before the cutoff. A row
// stuck in PENDING past the grace period is an interrupted commit.
func (r *UploadRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]domain.UploadRecord, error) {
	var models []uploadModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(domain.UploadPending), cutoff).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	records := make([]domain.UploadRecord, 0, len(models))
	for _, m := range models {
		records = append(records, *toDomainUpload(m))
	}
	return records, nil
}

func (r *UploadRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&uploadModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsUniqueViolation reports whether err is a duplicate-key failure from
// either backing engine.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: uploads.")
}

// IsBusy reports whether err means the store file could not be locked
// right now and the operation is worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "unable to open database file")
}
