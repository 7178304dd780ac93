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
	"strings"
	"sync"
	"testing"
	"time"

	"filedepot/internal/database"
	"filedepot/internal/domain"
	"filedepot/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type coordinatorFixture struct {
	coordinator *Coordinator
	repo        *repository.UploadRepository
	blobs       *BlobStore
	dir         string
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()

	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	repo := repository.NewUploadRepository(db)
	require.NoError(t, repo.Migrate())

	dir := t.TempDir()
	blobs, err := NewBlobStore(dir)
	require.NoError(t, err)

	return &coordinatorFixture{
		coordinator: NewCoordinator(repo, blobs, 5, 10*time.Millisecond),
		repo:        repo,
		blobs:       blobs,
		dir:         dir,
	}
}

func TestIngestCommitsRecord(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	payload := "0123456789"
	rec, err := f.coordinator.Ingest(ctx, "a.txt", "text/plain", strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	assert.Equal(t, domain.UploadCommitted, rec.Status)
	assert.Equal(t, "a.txt", rec.OriginalName)
	assert.Equal(t, int64(10), rec.SizeBytes)
	assert.NotEqual(t, "a.txt", rec.StoredPath)
	assert.NotEmpty(t, rec.ID)

	// The blob on disk matches the record byte for byte.
	onDisk, err := os.ReadFile(filepath.Join(f.dir, rec.StoredPath))
	require.NoError(t, err)
	assert.Equal(t, int64(len(onDisk)), rec.SizeBytes)
	sum := sha256.Sum256(onDisk)
	assert.Equal(t, hex.EncodeToString(sum[:]), rec.ContentHash)

	stored, err := f.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadCommitted, stored.Status)
	assert.Equal(t, rec.ContentHash, stored.ContentHash)
}

type failingReader struct {
	data []byte
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		n := copy(p, r.data)
		return n, nil
	}
	return 0, errors.New("connection reset")
}

func TestIngestFailureRollsBack(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	_, err := f.coordinator.Ingest(ctx, "broken.bin", "", &failingReader{data: []byte("par")}, 100)
	require.Error(t, err)

	records, err := f.repo.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.UploadFailed, records[0].Status)

	_, statErr := os.Stat(filepath.Join(f.dir, records[0].StoredPath))
	assert.True(t, os.IsNotExist(statErr), "failed upload must leave no blob")
	assertNoTempFiles(t, f.dir)
}

func TestIngestTruncatedStream(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	_, err := f.coordinator.Ingest(ctx, "a.txt", "text/plain", strings.NewReader("abc"), 10)
	assert.ErrorIs(t, err, ErrTruncatedStream)

	records, err := f.repo.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.UploadFailed, records[0].Status)
	_, statErr := os.Stat(filepath.Join(f.dir, records[0].StoredPath))
	assert.True(t, os.IsNotExist(statErr))
}

type stallingReader struct {
	delay time.Duration
}

func (r *stallingReader) Read(p []byte) (int, error) {
	time.Sleep(r.delay)
	return copy(p, []byte("x")), nil
}

func TestIngestStalledStreamHitsDeadline(t *testing.T) {
	f := newCoordinatorFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.coordinator.Ingest(ctx, "slow.bin", "", &stallingReader{delay: 200 * time.Millisecond}, -1)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)

	records, err := f.repo.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.UploadFailed, records[0].Status)
}

func TestConcurrentIngest(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	const workers = 4
	const perWorker = 6

	var (
		mu      sync.Mutex
		results []*domain.UploadRecord
		wg      sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				payload := fmt.Sprintf("worker-%d-upload-%d", w, i)
				rec, err := f.coordinator.Ingest(ctx, fmt.Sprintf("f-%d-%d.txt", w, i), "text/plain", strings.NewReader(payload), int64(len(payload)))
				assert.NoError(t, err)
				if err == nil {
					mu.Lock()
					results = append(results, rec)
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, results, workers*perWorker)

	ids := make(map[string]bool)
	paths := make(map[string]bool)
	for _, rec := range results {
		assert.Equal(t, domain.UploadCommitted, rec.Status)
		assert.False(t, ids[rec.ID], "duplicate id %s", rec.ID)
		assert.False(t, paths[rec.StoredPath], "duplicate path %s", rec.StoredPath)
		ids[rec.ID] = true
		paths[rec.StoredPath] = true

		info, err := os.Stat(filepath.Join(f.dir, rec.StoredPath))
		require.NoError(t, err)
		assert.Equal(t, rec.SizeBytes, info.Size())
	}

	// No lost updates: every commit is visible in the store.
	records, err := f.repo.List(ctx, maxListLimit, 0)
	require.NoError(t, err)
	committed := 0
	for _, rec := range records {
		if rec.Status == domain.UploadCommitted {
			committed++
		}
	}
	assert.Equal(t, workers*perWorker, committed)
}

func TestIngestIdenticalContentStaysDistinct(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	payload := "same bytes"
	first, err := f.coordinator.Ingest(ctx, "one.txt", "text/plain", strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	second, err := f.coordinator.Ingest(ctx, "two.txt", "text/plain", strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.StoredPath, second.StoredPath)
}

func TestIngestTraversalNameOnlyAffectsDisplayName(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	name := "../../escape.txt"
	rec, err := f.coordinator.Ingest(ctx, name, "text/plain", strings.NewReader("safe"), 4)
	require.NoError(t, err)

	assert.Equal(t, name, rec.OriginalName)
	assert.NotContains(t, rec.StoredPath, "..")
	assert.NotContains(t, rec.StoredPath, "/")

	_, err = os.Stat(filepath.Join(f.dir, rec.StoredPath))
	assert.NoError(t, err, "blob must live inside the managed directory")
}

func TestDeleteRemovesRecordAndBlob(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	rec, err := f.coordinator.Ingest(ctx, "gone.txt", "text/plain", strings.NewReader("bye"), 3)
	require.NoError(t, err)

	require.NoError(t, f.coordinator.Delete(ctx, rec.ID))

	_, err = f.repo.GetByID(ctx, rec.ID)
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(f.dir, rec.StoredPath))
	assert.True(t, os.IsNotExist(statErr))

	assert.ErrorIs(t, f.coordinator.Delete(ctx, rec.ID), ErrNotFound)
}

func TestSweepResolvesStalePending(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	stale := &domain.UploadRecord{
		ID:           "stale-id",
		OriginalName: "stale.txt",
		StoredPath:   "stale-id.txt",
	}
	require.NoError(t, f.repo.InsertPending(ctx, stale))

	// Leave a half-finished blob behind, then age the row past the grace
	// period as a crashed commit would.
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, stale.StoredPath), []byte("partial"), 0o644))
	aged := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, f.repo.DB().Exec("UPDATE uploads SET created_at = ? WHERE id = ?", aged, stale.ID).Error)

	fresh := &domain.UploadRecord{
		ID:           "fresh-id",
		OriginalName: "fresh.txt",
		StoredPath:   "fresh-id.txt",
	}
	require.NoError(t, f.repo.InsertPending(ctx, fresh))

	resolved, err := f.coordinator.SweepStalePending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	staleRow, err := f.repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadFailed, staleRow.Status)
	_, statErr := os.Stat(filepath.Join(f.dir, stale.StoredPath))
	assert.True(t, os.IsNotExist(statErr))

	freshRow, err := f.repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadPending, freshRow.Status, "rows inside the grace period stay untouched")
}

// scriptedRepo plays back per-operation error scripts so contention and
// driver failures can be staged deterministically. A nil or exhausted
// script means the operation succeeds.
type scriptedRepo struct {
	insertErrs []error
	commitErrs []error

	inserted  []string
	committed []string
	failed    []string
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (r *scriptedRepo) InsertPending(ctx context.Context, rec *domain.UploadRecord) error {
	if err := popErr(&r.insertErrs); err != nil {
		return err
	}
	r.inserted = append(r.inserted, rec.ID)
	return nil
}

func (r *scriptedRepo) MarkCommitted(ctx context.Context, id string, sizeBytes int64, contentHash string, committedAt time.Time) error {
	if err := popErr(&r.commitErrs); err != nil {
		return err
	}
	r.committed = append(r.committed, id)
	return nil
}

func (r *scriptedRepo) MarkFailed(ctx context.Context, id string) error {
	r.failed = append(r.failed, id)
	return nil
}

func (r *scriptedRepo) GetByID(ctx context.Context, id string) (*domain.UploadRecord, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *scriptedRepo) List(ctx context.Context, limit, offset int) ([]domain.UploadRecord, error) {
	return nil, nil
}

func (r *scriptedRepo) FindStalePending(ctx context.Context, cutoff time.Time) ([]domain.UploadRecord, error) {
	return nil, nil
}

func (r *scriptedRepo) Delete(ctx context.Context, id string) error {
	return gorm.ErrRecordNotFound
}

func errStoreLocked() error {
	return errors.New("database is locked (5) (SQLITE_BUSY)")
}

func newScriptedCoordinator(t *testing.T, repo *scriptedRepo, retries int) (*Coordinator, string) {
	t.Helper()
	dir := t.TempDir()
	blobs, err := NewBlobStore(dir)
	require.NoError(t, err)
	return NewCoordinator(repo, blobs, retries, time.Millisecond), dir
}

func TestIngestRetriesBusyStore(t *testing.T) {
	repo := &scriptedRepo{
		insertErrs: []error{errStoreLocked()},
		commitErrs: []error{errStoreLocked(), errStoreLocked()},
	}
	coordinator, _ := newScriptedCoordinator(t, repo, 5)

	rec, err := coordinator.Ingest(context.Background(), "a.txt", "text/plain", strings.NewReader("0123456789"), 10)
	require.NoError(t, err)

	assert.Equal(t, domain.UploadCommitted, rec.Status)
	assert.Equal(t, []string{rec.ID}, repo.inserted)
	assert.Equal(t, []string{rec.ID}, repo.committed)
	assert.Empty(t, repo.failed)
}

func TestIngestBusyExhaustionIsStoreUnavailable(t *testing.T) {
	locked := make([]error, 10)
	for i := range locked {
		locked[i] = errStoreLocked()
	}
	repo := &scriptedRepo{insertErrs: locked}
	coordinator, dir := newScriptedCoordinator(t, repo, 2)

	_, err := coordinator.Ingest(context.Background(), "a.txt", "text/plain", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// The blob write never starts when the PENDING row cannot be placed.
	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestIngestCommitBusyExhaustionRollsBack(t *testing.T) {
	locked := make([]error, 10)
	for i := range locked {
		locked[i] = errStoreLocked()
	}
	repo := &scriptedRepo{commitErrs: locked}
	coordinator, dir := newScriptedCoordinator(t, repo, 2)

	_, err := coordinator.Ingest(context.Background(), "a.txt", "text/plain", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	require.Len(t, repo.inserted, 1)
	assert.Equal(t, repo.inserted, repo.failed, "unreachable commit must resolve the row to FAILED")

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "rollback must remove the published blob")
}

func TestIngestDuplicateIDIsReported(t *testing.T) {
	repo := &scriptedRepo{
		insertErrs: []error{errors.New("UNIQUE constraint failed: uploads.id")},
	}
	coordinator, _ := newScriptedCoordinator(t, repo, 0)

	_, err := coordinator.Ingest(context.Background(), "a.txt", "text/plain", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Empty(t, repo.failed)
}

func TestIngestCommitDeadlineMapsToDeadlineError(t *testing.T) {
	repo := &scriptedRepo{commitErrs: []error{context.DeadlineExceeded}}
	coordinator, _ := newScriptedCoordinator(t, repo, 0)

	_, err := coordinator.Ingest(context.Background(), "a.txt", "text/plain", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)

	require.Len(t, repo.inserted, 1)
	assert.Equal(t, repo.inserted, repo.failed)
}

var _ io.Reader = (*failingReader)(nil)
var _ UploadRepository = (*scriptedRepo)(nil)
