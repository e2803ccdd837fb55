// Package room implements the fan-out layer of spec.md §4.E: a
// per-canvas membership set with broadcast, presence, and a liveness
// heartbeat, decoupled from the wire protocol so it owns no JSON shapes
// of its own - those belong to internal/wsproto. Grounded on the
// room/hub shape in `Manpreet-Bhatti-lattice/room.go` and
// `quqxiaoli-collaborative-blackboard/room.go` (mutex-guarded member
// state, copy-out accessors to avoid holding a lock across I/O), and on
// the per-connection session shape in haasonsaas-nexus's
// `ws_control_plane.go` (buffered send channel, drop-on-overflow).
package room

import "sync"

// Transport is the minimal send surface the room manager needs from a
// live connection, decoupled from any specific transport library.
type Transport interface {
	// Send enqueues data for delivery and reports whether it was
	// accepted; false means the connection's send buffer is full or
	// already closed, and the caller should treat this as a dropped
	// fan-out rather than an error (§5 backpressure).
	Send(data []byte) bool

	// Ping sends a liveness probe and reports whether the transport is
	// still able to accept writes.
	Ping() bool

	// Close tears down the underlying connection.
	Close()
}

// member is one attached session's record inside a room.
type member struct {
	sessionID    string
	userID       string
	username     string
	transport    Transport
	awaitingPong bool
}

// UserInfo is usersOf's per-user element.
type UserInfo struct {
	UserID   string
	Username string
}

// room is the membership set for one canvas: created on first attach,
// deleted when it empties (§8 "Room lifecycle").
type room struct {
	mu      sync.RWMutex
	members map[string]*member
}

func newRoom() *room {
	return &room{members: make(map[string]*member)}
}

func (r *room) add(m *member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.sessionID] = m
}

func (r *room) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, sessionID)
}

func (r *room) isEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members) == 0
}

// snapshot copies out the member list so broadcast/ping never hold the
// lock across a blocking Send/Ping call to one member.
func (r *room) snapshot() []*member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

func (r *room) users() []UserInfo {
	members := r.snapshot()
	out := make([]UserInfo, 0, len(members))
	for _, m := range members {
		out = append(out, UserInfo{UserID: m.userID, Username: m.username})
	}
	return out
}

// broadcast sends data to every member except excludeSessionID. A
// member whose transport rejects the send (full buffer, closed) is
// skipped silently - that receiver reconciles via GET_STATE or
// BATCH_SYNC per §5.
func (r *room) broadcast(data []byte, excludeSessionID string) {
	for _, m := range r.snapshot() {
		if m.sessionID == excludeSessionID {
			continue
		}
		m.transport.Send(data)
	}
}
