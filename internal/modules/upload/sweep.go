package upload

import (
	"context"
	"log"
	"time"
)

// SweepStalePending resolves interrupted commits left by a crash: any row
// still PENDING past the grace period gets its blob removed (best effort)
// and is marked FAILED. Returns the number of rows resolved.
func (c *Coordinator) SweepStalePending(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	stale, err := c.repo.FindStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, rec := range stale {
		if err := c.blobs.Remove(rec.StoredPath); err != nil {
			log.Printf("upload_sweep op=remove_blob id=%s error=%q", rec.ID, err)
		}
		id := rec.ID
		if err := c.writeMeta(ctx, func() error { return c.repo.MarkFailed(ctx, id) }); err != nil {
			log.Printf("upload_sweep op=mark_failed id=%s error=%q", id, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}
