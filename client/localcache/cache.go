// Package localcache is the client-side half of §4.H: it stores the
// latest server snapshot per canvas, the list of locally pending
// (unacknowledged) edits, and computes their effective fold so a UI can
// render its own unacknowledged edits immediately, offline or not.
//
// The projection rules mirror internal/canvasstore/projection.go's
// §4.D.1 table, reimplemented here without the GORM dependency since a
// client has no database - this package only ever touches in-memory
// state.
package localcache

import (
	"sort"
	"sync"
	"time"

	"github.com/Shashank188/CanvasCollab/internal/canvasevent"
	"github.com/Shashank188/CanvasCollab/internal/conflict"
	"github.com/Shashank188/CanvasCollab/internal/vectorclock"
)

// Shape is one shape's client-side projected state.
type Shape struct {
	ID                 string
	Type               string
	ZIndex             int
	Properties         canvasevent.Properties
	PropertyTimestamps map[string]int64
	VectorClock        vectorclock.Clock
	Deleted            bool
}

// Snapshot is a canvas's shape set at a known server version.
type Snapshot struct {
	Shapes  map[string]Shape
	Version uint64
}

func emptySnapshot() Snapshot {
	return Snapshot{Shapes: map[string]Shape{}}
}

// clone returns a deep-enough copy: the Shapes map and each Shape's
// Properties/PropertyTimestamps/VectorClock are copied so callers can't
// alias the cache's internal state.
func (s Snapshot) clone() Snapshot {
	out := Snapshot{Shapes: make(map[string]Shape, len(s.Shapes)), Version: s.Version}
	for id, sh := range s.Shapes {
		out.Shapes[id] = sh.clone()
	}
	return out
}

func (sh Shape) clone() Shape {
	return Shape{
		ID:                 sh.ID,
		Type:               sh.Type,
		ZIndex:             sh.ZIndex,
		Properties:         canvasevent.MergeProperties(nil, sh.Properties),
		PropertyTimestamps: cloneInt64Map(sh.PropertyTimestamps),
		VectorClock:        sh.VectorClock.Clone(),
		Deleted:            sh.Deleted,
	}
}

func cloneInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PendingEdit is one not-yet-acknowledged local write, enough to fold
// onto a snapshot using the same rules the server's projector applies.
type PendingEdit struct {
	ShapeID   string
	Kind      canvasevent.Kind
	ShapeType string
	ZIndex    int
	Payload   canvasevent.Properties
	UserID    string
	Timestamp time.Time
}

// Cache holds one snapshot and one pending-edit list per canvas,
// guarded by a single mutex since canvases are rarely numerous enough
// on a client to warrant per-canvas locks.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	pending   map[string][]PendingEdit
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		snapshots: make(map[string]Snapshot),
		pending:   make(map[string][]PendingEdit),
	}
}

// SetSnapshot replaces canvasID's server snapshot, e.g. after JOIN_CANVAS
// or a BATCH_SYNC_RESULT's currentState.
func (c *Cache) SetSnapshot(canvasID string, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[canvasID] = snap.clone()
}

// Snapshot returns canvasID's last known server snapshot.
func (c *Cache) Snapshot(canvasID string) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[canvasID]
	if !ok {
		return emptySnapshot()
	}
	return snap.clone()
}

// AppendPending records a local edit that has not yet been confirmed
// stored by the server.
func (c *Cache) AppendPending(canvasID string, edit PendingEdit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[canvasID] = append(c.pending[canvasID], edit)
}

// ClearPending drops every pending edit recorded for canvasID, e.g. once
// a BATCH_SYNC_RESULT has folded them into a fresh snapshot.
func (c *Cache) ClearPending(canvasID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, canvasID)
}

// PendingCount reports how many unacknowledged edits canvasID has.
func (c *Cache) PendingCount(canvasID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending[canvasID])
}

// EffectiveState returns canvasID's snapshot with every pending edit
// folded on top, applied in timestamp order, so a caller observes its
// own unacknowledged edits even while offline.
func (c *Cache) EffectiveState(canvasID string) Snapshot {
	c.mu.RLock()
	base := c.snapshots[canvasID]
	edits := append([]PendingEdit(nil), c.pending[canvasID]...)
	c.mu.RUnlock()

	out := base.clone()
	if out.Shapes == nil {
		out.Shapes = map[string]Shape{}
	}

	sort.SliceStable(edits, func(i, j int) bool {
		return edits[i].Timestamp.Before(edits[j].Timestamp)
	})

	for _, e := range edits {
		foldPendingEdit(out.Shapes, e)
	}
	return out
}

// VisibleShapes returns snap's non-deleted shapes ordered by zIndex then
// id, the order a canvas would actually render them in.
func (s Snapshot) VisibleShapes() []Shape {
	out := make([]Shape, 0, len(s.Shapes))
	for _, sh := range s.Shapes {
		if !sh.Deleted {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// foldPendingEdit applies one pending edit to shapes in place, following
// the §4.D.1 rules table: SHAPE_CREATED upserts, SHAPE_EDITED/
// SHAPE_MOVED/DRAG_END shallow-merge, SHAPE_DELETED tombstones, and every
// other kind is audit-only with no projection effect.
func foldPendingEdit(shapes map[string]Shape, e PendingEdit) {
	if e.ShapeID == "" {
		return
	}

	switch e.Kind {
	case canvasevent.ShapeCreated:
		existing, existed := shapes[e.ShapeID]
		clock := vectorclock.New()
		if existed {
			clock = existing.VectorClock
		}
		shapes[e.ShapeID] = Shape{
			ID:                 e.ShapeID,
			Type:               e.ShapeType,
			ZIndex:             e.ZIndex,
			Properties:         e.Payload,
			PropertyTimestamps: stampAll(e.Payload, e.Timestamp),
			VectorClock:        clock.Inc(e.UserID),
		}

	case canvasevent.ShapeEdited, canvasevent.ShapeMoved, canvasevent.DragEnd:
		existing, existed := shapes[e.ShapeID]
		if !existed || len(e.Payload) == 0 {
			return
		}
		merged := canvasevent.MergeProperties(existing.Properties, e.Payload)
		timestamps := cloneInt64Map(existing.PropertyTimestamps)
		for k, v := range stampAll(e.Payload, e.Timestamp) {
			timestamps[k] = v
		}
		existing.Properties = merged
		existing.PropertyTimestamps = timestamps
		existing.VectorClock = existing.VectorClock.Inc(e.UserID)
		shapes[e.ShapeID] = existing

	case canvasevent.ShapeDeleted:
		if existing, existed := shapes[e.ShapeID]; existed {
			existing.Deleted = true
			shapes[e.ShapeID] = existing
		}

	default:
		// POINTER_DOWN, DRAG_START, USER_CONNECTED, USER_DISCONNECTED:
		// recorded for replay/audit but have no projection effect.
	}
}

func stampAll(props canvasevent.Properties, at time.Time) map[string]int64 {
	out := make(map[string]int64, len(props))
	ms := at.UnixMilli()
	for k := range props {
		out[k] = ms
	}
	return out
}

// ApplyRemoteShapeEvent resolves a live remote SHAPE_EVENT against
// canvasID's currently cached state for shapeID (§4.G.5 conflict
// acceptance) and writes the resolver's verdict back into the snapshot.
// A shapeID the cache has never seen is simply created from the remote
// state, since there is nothing local to conflict with.
func (c *Cache) ApplyRemoteShapeEvent(canvasID, shapeID string, remote conflict.State) conflict.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.snapshots[canvasID]
	if !ok {
		snap = emptySnapshot()
	}
	if snap.Shapes == nil {
		snap.Shapes = map[string]Shape{}
	}

	existing, hadLocal := snap.Shapes[shapeID]
	if !hadLocal {
		snap.Shapes[shapeID] = Shape{
			ID:                 shapeID,
			Properties:         remote.Properties,
			PropertyTimestamps: remote.PropertyTimestamps,
			VectorClock:        remote.VectorClock,
		}
		c.snapshots[canvasID] = snap
		return conflict.Result{Action: conflict.ApplyRemote, Properties: remote.Properties, VectorClock: remote.VectorClock, PropertyTimestamps: remote.PropertyTimestamps}
	}

	local := conflict.State{
		Properties:         existing.Properties,
		VectorClock:        existing.VectorClock,
		PropertyTimestamps: existing.PropertyTimestamps,
	}
	result := conflict.Resolve(local, remote)

	existing.Properties = result.Properties
	existing.VectorClock = result.VectorClock
	existing.PropertyTimestamps = result.PropertyTimestamps
	snap.Shapes[shapeID] = existing
	c.snapshots[canvasID] = snap

	return result
}
