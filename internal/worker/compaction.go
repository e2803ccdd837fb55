package worker

import (
	"context"
	"log"

	"github.com/Shashank188/CanvasCollab/internal/canvasstore"
)

// CompactionWorker submits snapshot-compaction tasks to a shared
// WorkerPool. It is triggered per-canvas from the write path (§4.D's
// shouldSnapshot heuristic) rather than sweeping every canvas on a
// timer, since only a store write can possibly need one.
type CompactionWorker struct {
	pool      *WorkerPool
	store     canvasstore.Store
	threshold uint64
}

func NewCompactionWorker(pool *WorkerPool, store canvasstore.Store, threshold uint64) *CompactionWorker {
	return &CompactionWorker{pool: pool, store: store, threshold: threshold}
}

// MaybeCompact submits a snapshot task for canvasID if version has
// advanced threshold events past the nearest snapshot. It never blocks
// the caller - the nearest-snapshot lookup and the snapshot write both
// happen on a pool worker.
func (c *CompactionWorker) MaybeCompact(canvasID string, version uint64) {
	c.pool.Submit(func(ctx context.Context) error {
		snap, err := c.store.NearestSnapshot(ctx, canvasID)
		if err != nil {
			return err
		}

		var lastVersion uint64
		if snap != nil {
			lastVersion = snap.Version
		}
		if version < lastVersion || version-lastVersion < c.threshold {
			return nil
		}

		if err := c.store.CreateSnapshot(ctx, canvasID); err != nil {
			return err
		}
		log.Printf("compaction: snapshotted canvas %s at version %d", canvasID, version)
		return nil
	})
}
