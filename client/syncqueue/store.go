package syncqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Shashank188/CanvasCollab/internal/canvasevent"
)

// PendingEvent is one client-originated event, durably queued until the
// server acknowledges it (§4.G.3). LocalEventID is the queue's own key;
// the server never sees it echoed back except on the EVENT_ACK/
// BATCH_SYNC_RESULT that confirms storage.
type PendingEvent struct {
	LocalEventID string                 `json:"localEventId"`
	CanvasID     string                 `json:"canvasId"`
	Kind         canvasevent.Kind       `json:"kind"`
	ShapeID      *string                `json:"shapeId,omitempty"`
	Payload      canvasevent.Properties `json:"payload"`
	UserID       string                 `json:"userId"`
	Timestamp    time.Time              `json:"timestamp"`
}

// PendingStore is durable local storage for events awaiting server
// acknowledgment. A Go client has no browser localStorage, so this is an
// injected interface rather than a fixed implementation: production
// callers back it with a file or embedded-db-backed store; tests use
// MemoryStore.
type PendingStore interface {
	Save(ctx context.Context, ev PendingEvent) error
	Delete(ctx context.Context, localEventID string) error
	ListByCanvas(ctx context.Context, canvasID string) ([]PendingEvent, error)
	Clear(ctx context.Context, canvasID string) error
}

// MemoryStore is a PendingStore backed by a plain map, guarded by a
// mutex. It is the default store for tests and for callers that accept
// losing the queue across a process restart.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]PendingEvent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]PendingEvent)}
}

func (m *MemoryStore) Save(_ context.Context, ev PendingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.LocalEventID] = ev
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, localEventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, localEventID)
	return nil
}

// ListByCanvas returns canvasID's pending events ordered by timestamp,
// the order §4.G.4 requires them replayed in on reconnect.
func (m *MemoryStore) ListByCanvas(_ context.Context, canvasID string) ([]PendingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PendingEvent, 0, len(m.events))
	for _, ev := range m.events {
		if ev.CanvasID == canvasID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context, canvasID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ev := range m.events {
		if ev.CanvasID == canvasID {
			delete(m.events, id)
		}
	}
	return nil
}
