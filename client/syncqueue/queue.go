// Package syncqueue is the client-side half of §4.G: it wraps a
// transport and a durable PendingStore, throttling/coalescing outgoing
// edits, attempting a live send with a bounded ack wait, falling back to
// durable enqueue on timeout or disconnect, and replaying the queue
// through BATCH_SYNC on reconnect.
//
// Grounded on the teacher's internal/sync/client.go (context-timeout-
// bounded calls against an injected transport) turned inside-out into a
// client issuing those calls, and on the durable offline-queue shape in
// josedab-chronicle's offline sync manager (mutex-guarded state plus an
// explicit Start/Stop lifecycle over a cancellable context).
package syncqueue

import (
	"context"
	"sync"
	"time"

	"github.com/Shashank188/CanvasCollab/internal/canvasevent"
	"github.com/Shashank188/CanvasCollab/internal/conflict"
	"github.com/Shashank188/CanvasCollab/internal/vectorclock"
	"github.com/Shashank188/CanvasCollab/client/localcache"
)

const (
	// DefaultAckTimeout bounds how long a live send waits for an
	// EVENT_ACK before falling back to durable enqueue (§4.G.2).
	DefaultAckTimeout = 5 * time.Second
	// DefaultCoalesceWindow is how long a SHAPE_EDITED edit for one
	// shape waits for quiescence before it is flushed (§4.G.1).
	DefaultCoalesceWindow = 300 * time.Millisecond
	// DefaultCursorInterval enforces the ~20/s cursor throttle (§4.G.1).
	DefaultCursorInterval = 50 * time.Millisecond
	// DefaultBatchSyncTimeout bounds the BATCH_SYNC round trip on
	// reconnect (§5).
	DefaultBatchSyncTimeout = 60 * time.Second
)

// kindsNotCoalesced are sent immediately on every call rather than
// shallow-merged into a pending edit, per §4.G.1.
var kindsNotCoalesced = map[canvasevent.Kind]bool{
	canvasevent.PointerDown:  true,
	canvasevent.DragStart:    true,
	canvasevent.DragEnd:      true,
	canvasevent.ShapeMoved:   true,
	canvasevent.ShapeCreated: true,
	canvasevent.ShapeDeleted: true,
}

// EventAck is the client-side view of an EVENT_ACK frame.
type EventAck struct {
	LocalEventID string
	EventID      string
	Version      uint64
	Stored       bool
	HadConflict  bool
}

// RemoteEvent is an incoming SHAPE_EVENT broadcast from another session.
type RemoteEvent struct {
	EventID string
	ShapeID *string
	Kind    canvasevent.Kind
	Payload canvasevent.Properties
	UserID  string
	Version uint64
}

// BatchSyncResult is the client-side view of a BATCH_SYNC_RESULT frame.
type BatchSyncResult struct {
	Success      bool
	Error        string
	StoredEvents []EventAck
	MissedEvents []RemoteEvent
	Snapshot     localcache.Snapshot
	Conflicts    []string
}

// Transport is the duplex channel the queue sends frames over. A live
// send blocks for at most the caller's context deadline awaiting the
// matching EVENT_ACK; BatchSync is a single round trip. Implementations
// wrap a WebSocket connection speaking the session protocol of
// internal/wsproto.
type Transport interface {
	Connected() bool
	SendShapeEvent(ctx context.Context, ev PendingEvent) (EventAck, error)
	BatchSync(ctx context.Context, canvasID string, events []PendingEvent, lastKnownVersion uint64) (BatchSyncResult, error)
}

type coalescedEdit struct {
	payload canvasevent.Properties
	timer   *time.Timer
}

// Queue drives one canvas's outgoing edit flow, per §4.G's state
// machine: created -> sent -> ack (happy path), or created -> sent ->
// timeout -> enqueued -> batched -> cleared (offline/slow path), or
// created -> enqueued when the transport is already known-offline.
type Queue struct {
	canvasID  string
	userID    string
	store     PendingStore
	transport Transport
	cache     *localcache.Cache

	ackTimeout     time.Duration
	coalesceWindow time.Duration
	cursorInterval time.Duration
	batchTimeout   time.Duration

	mu             sync.Mutex
	coalesced      map[string]*coalescedEdit // shapeId -> in-flight merge
	lastCursorSent time.Time
}

// Stop cancels every in-flight coalesce timer without flushing them.
// Callers that want outstanding edits sent first should call
// FlushPendingEdits before Stop.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, edit := range q.coalesced {
		edit.timer.Stop()
		delete(q.coalesced, id)
	}
}

// New returns a Queue for one canvas/user pair, with the default
// throttle/coalesce/timeout windows.
func New(canvasID, userID string, store PendingStore, transport Transport, cache *localcache.Cache) *Queue {
	return &Queue{
		canvasID:       canvasID,
		userID:         userID,
		store:          store,
		transport:      transport,
		cache:          cache,
		ackTimeout:     DefaultAckTimeout,
		coalesceWindow: DefaultCoalesceWindow,
		cursorInterval: DefaultCursorInterval,
		batchTimeout:   DefaultBatchSyncTimeout,
		coalesced:      make(map[string]*coalescedEdit),
	}
}

// SubmitCursorMove throttles a CURSOR_MOVE to ~20/s, reporting whether
// it was sent (true) or dropped by the throttle (false). Cursor moves
// are ephemeral and never durably queued.
func (q *Queue) SubmitCursorMove(x, y float64, send func(x, y float64)) bool {
	q.mu.Lock()
	now := time.Now()
	if now.Sub(q.lastCursorSent) < q.cursorInterval {
		q.mu.Unlock()
		return false
	}
	q.lastCursorSent = now
	q.mu.Unlock()

	send(x, y)
	return true
}

// SubmitShapeEdit coalesces a SHAPE_EDITED diff for shapeID, shallow-
// merging it into any edit already pending for that shape and resetting
// the flush timer, per §4.G.1.
func (q *Queue) SubmitShapeEdit(ctx context.Context, shapeID string, diff canvasevent.Properties) {
	q.mu.Lock()
	existing, ok := q.coalesced[shapeID]
	if ok {
		existing.timer.Stop()
		existing.payload = canvasevent.MergeProperties(existing.payload, diff)
	} else {
		existing = &coalescedEdit{payload: diff}
		q.coalesced[shapeID] = existing
	}

	existing.timer = time.AfterFunc(q.coalesceWindow, func() { q.flushShapeEdit(ctx, shapeID) })
	q.mu.Unlock()
}

// flushShapeEdit sends the currently coalesced edit for shapeID, if any.
func (q *Queue) flushShapeEdit(ctx context.Context, shapeID string) {
	q.mu.Lock()
	edit, ok := q.coalesced[shapeID]
	if ok {
		delete(q.coalesced, shapeID)
	}
	q.mu.Unlock()
	if !ok {
		return
	}

	sid := shapeID
	q.attemptSend(ctx, PendingEvent{
		LocalEventID: newLocalEventID(),
		CanvasID:     q.canvasID,
		Kind:         canvasevent.ShapeEdited,
		ShapeID:      &sid,
		Payload:      edit.payload,
		UserID:       q.userID,
		Timestamp:    time.Now().UTC(),
	})
}

// FlushPendingEdits forces every coalesced edit to send immediately,
// without waiting for its quiescence timer. Called before a reconnect
// batch sync so nothing recent is left out of the replay (§4.G.4).
func (q *Queue) FlushPendingEdits(ctx context.Context) {
	q.mu.Lock()
	shapeIDs := make([]string, 0, len(q.coalesced))
	for id, edit := range q.coalesced {
		edit.timer.Stop()
		shapeIDs = append(shapeIDs, id)
	}
	q.mu.Unlock()

	for _, id := range shapeIDs {
		q.flushShapeEdit(ctx, id)
	}
}

// Submit is the single entry point a UI event loop calls for any
// storable edit: SHAPE_EDITED is coalesced per shape (§4.G.1); every
// other storable kind, per kindsNotCoalesced, is sent immediately.
func (q *Queue) Submit(ctx context.Context, kind canvasevent.Kind, shapeID *string, payload canvasevent.Properties) {
	if kind == canvasevent.ShapeEdited && !kindsNotCoalesced[kind] && shapeID != nil {
		q.SubmitShapeEdit(ctx, *shapeID, payload)
		return
	}
	q.SubmitEvent(ctx, kind, shapeID, payload)
}

// SubmitEvent sends one of the non-coalesced storable kinds (§4.G.1):
// POINTER_DOWN, DRAG_START, DRAG_END, SHAPE_MOVED, SHAPE_CREATED,
// SHAPE_DELETED. Every call attempts a live send and falls back to
// durable enqueue exactly like a flushed coalesced edit.
func (q *Queue) SubmitEvent(ctx context.Context, kind canvasevent.Kind, shapeID *string, payload canvasevent.Properties) {
	q.attemptSend(ctx, PendingEvent{
		LocalEventID: newLocalEventID(),
		CanvasID:     q.canvasID,
		Kind:         kind,
		ShapeID:      shapeID,
		Payload:      payload,
		UserID:       q.userID,
		Timestamp:    time.Now().UTC(),
	})
}

// attemptSend implements §4.G.2/3: send while online and await ack
// within ackTimeout; on timeout, transport failure, or a known-offline
// transport, durably enqueue instead. Only storable kinds are persisted
// (ephemeral kinds never reach this path).
func (q *Queue) attemptSend(ctx context.Context, ev PendingEvent) {
	if !canvasevent.IsStorable(ev.Kind) {
		return
	}

	if q.transport != nil && q.transport.Connected() {
		sendCtx, cancel := context.WithTimeout(ctx, q.ackTimeout)
		ack, err := q.transport.SendShapeEvent(sendCtx, ev)
		cancel()
		if err == nil && ack.Stored {
			return
		}
	}

	_ = q.store.Save(ctx, ev)
	q.cache.AppendPending(q.canvasID, localcache.PendingEdit{
		ShapeID:   shapeIDOf(ev.ShapeID),
		Kind:      ev.Kind,
		Payload:   ev.Payload,
		UserID:    ev.UserID,
		Timestamp: ev.Timestamp,
	})
}

func shapeIDOf(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

// Reconnect implements §4.G.4: flush any outstanding coalesced edits,
// load this canvas's pending events ordered by timestamp, call
// BATCH_SYNC, and on success replace the local cache with the returned
// state and clear the pending queue.
func (q *Queue) Reconnect(ctx context.Context, lastKnownVersion uint64) (BatchSyncResult, error) {
	q.FlushPendingEdits(ctx)

	pending, err := q.store.ListByCanvas(ctx, q.canvasID)
	if err != nil {
		return BatchSyncResult{}, err
	}

	syncCtx, cancel := context.WithTimeout(ctx, q.batchTimeout)
	defer cancel()

	result, err := q.transport.BatchSync(syncCtx, q.canvasID, pending, lastKnownVersion)
	if err != nil {
		return BatchSyncResult{}, err
	}
	if !result.Success {
		return result, nil
	}

	q.cache.SetSnapshot(q.canvasID, result.Snapshot)
	q.cache.ClearPending(q.canvasID)

	for _, ev := range pending {
		_ = q.store.Delete(ctx, ev.LocalEventID)
	}

	return result, nil
}

// AcceptRemoteEvent implements §4.G.5: a live remote SHAPE_EVENT for a
// known shape is reconciled against local state through the resolver
// rather than blindly overwritten.
func (q *Queue) AcceptRemoteEvent(remote RemoteEvent) conflict.Result {
	if remote.ShapeID == nil {
		return conflict.Result{}
	}

	causality, _ := remote.Payload["vectorClock"].(map[string]any)
	remoteClock := vectorclock.New()
	for k, v := range causality {
		if f, ok := v.(float64); ok {
			remoteClock[k] = uint64(f)
		}
	}

	timestamps, _ := remote.Payload["propertyTimestamps"].(map[string]any)
	remoteTimestamps := make(map[string]int64, len(timestamps))
	for k, v := range timestamps {
		if f, ok := v.(float64); ok {
			remoteTimestamps[k] = int64(f)
		}
	}

	state := conflict.State{
		Properties:         remote.Payload,
		VectorClock:        remoteClock,
		PropertyTimestamps: remoteTimestamps,
	}
	return q.cache.ApplyRemoteShapeEvent(q.canvasID, *remote.ShapeID, state)
}

var localEventSeq struct {
	mu  sync.Mutex
	n   uint64
}

// newLocalEventID mints a process-local, monotonically increasing event
// id. It is only ever compared against this queue's own PendingStore,
// never sent to another process as a global identifier, so a counter
// rather than a UUID is sufficient.
func newLocalEventID() string {
	localEventSeq.mu.Lock()
	localEventSeq.n++
	n := localEventSeq.n
	localEventSeq.mu.Unlock()
	return "local-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
