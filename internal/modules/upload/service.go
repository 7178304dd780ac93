package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"filedepot/internal/domain"

	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Service validates an inbound upload before handing the stream to the
// coordinator. It performs no storage I/O of its own.
type Service struct {
	ingestor      Ingestor
	repo          UploadRepository
	blobs         *BlobStore
	maxBytes      int64
	streamTimeout time.Duration
	allowedTypes  map[string]struct{}
}

func NewService(ingestor Ingestor, repo UploadRepository, blobs *BlobStore, maxBytes int64, streamTimeout time.Duration, allowedTypes []string) *Service {
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			allowed[t] = struct{}{}
		}
	}
	return &Service{
		ingestor:      ingestor,
		repo:          repo,
		blobs:         blobs,
		maxBytes:      maxBytes,
		streamTimeout: streamTimeout,
		allowedTypes:  allowed,
	}
}

type IngestRequest struct {
	OriginalName string
	ContentType  string
	DeclaredSize int64 // -1 when unknown
	Body         io.Reader
}

func (s *Service) Upload(ctx context.Context, req IngestRequest) (*domain.UploadRecord, error) {
	if req.Body == nil {
		return nil, ErrTruncatedStream
	}
	if req.DeclaredSize == 0 {
		return nil, ErrEmptyFile
	}
	if s.maxBytes > 0 && req.DeclaredSize > s.maxBytes {
		return nil, ErrPayloadTooLarge
	}
	if len(s.allowedTypes) > 0 {
		if _, ok := s.allowedTypes[normalizeContentType(req.ContentType)]; !ok {
			return nil, ErrUnsupportedType
		}
	}

	if s.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.streamTimeout)
		defer cancel()
	}

	body := req.Body
	if s.maxBytes > 0 {
		// Declared sizes are advisory; the cap is enforced on the
		// actual stream as well.
		body = &cappedReader{r: body, max: s.maxBytes}
	}

	return s.ingestor.Ingest(ctx, req.OriginalName, req.ContentType, body, req.DeclaredSize)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.UploadRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.UploadRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.ingestor.Delete(ctx, id)
}

// DeleteMany removes each listed upload in turn. Unknown ids are skipped
// and reported back rather than failing the batch; any other error stops
// the loop with the work done so far.
func (s *Service) DeleteMany(ctx context.Context, ids []string) (deleted, missing []string, err error) {
	for _, id := range ids {
		if err := s.ingestor.Delete(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				missing = append(missing, id)
				continue
			}
			return deleted, missing, err
		}
		deleted = append(deleted, id)
	}
	return deleted, missing, nil
}

// OpenContent returns a committed record together with a reader over its
// blob. The caller closes the reader.
func (s *Service) OpenContent(ctx context.Context, id string) (*domain.UploadRecord, io.ReadCloser, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rec.Status != domain.UploadCommitted {
		return nil, nil, ErrNotFound
	}
	f, err := s.blobs.Open(rec.StoredPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return rec, f, nil
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	// Strip parameters such as "; charset=utf-8".
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// cappedReader fails the stream once it has produced more than max bytes.
type cappedReader struct {
	r    io.Reader
	max  int64
	seen int64
}

func (cr *cappedReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.seen += int64(n)
	if cr.seen > cr.max {
		return n, ErrPayloadTooLarge
	}
	return n, err
}
