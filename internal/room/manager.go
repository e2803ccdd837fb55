package room

import (
	"sync"
	"time"
)

// HeartbeatInterval is the ~30s cadence of §4.E's liveness check.
const HeartbeatInterval = 30 * time.Second

// sessionInfo is the manager's connection→info record, the counterpart
// of spec.md §4.E's `sessions: connection → sessionInfo` map.
type sessionInfo struct {
	canvasID string
	member   *member
}

// Manager is the process-wide room registry: `rooms: canvasId →
// set<session>` plus `sessions: connection → sessionInfo`. It owns no
// wire-protocol knowledge - presence and fan-out payloads are built by
// the caller (internal/wsproto) and handed to Broadcast as raw bytes.
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	sessions map[string]*sessionInfo
}

// NewManager constructs an empty registry.
func NewManager() *Manager {
	return &Manager{
		rooms:    make(map[string]*room),
		sessions: make(map[string]*sessionInfo),
	}
}

// Attach joins sessionID to canvasId's room, creating the room if this
// is its first member. If the session was already attached to a
// different canvas, it is detached from that one first (§4.F
// JOIN_CANVAS: "detach from any previous canvas; ... attach").
func (m *Manager) Attach(sessionID, canvasID, userID, username string, transport Transport) {
	m.Detach(sessionID)

	mem := &member{sessionID: sessionID, userID: userID, username: username, transport: transport}

	m.mu.Lock()
	r, ok := m.rooms[canvasID]
	if !ok {
		r = newRoom()
		m.rooms[canvasID] = r
	}
	m.sessions[sessionID] = &sessionInfo{canvasID: canvasID, member: mem}
	m.mu.Unlock()

	r.add(mem)
}

// Detach removes sessionID from its current room, if any, and reports
// the canvasId it was attached to. The room is deleted once its last
// member leaves (§8 "Room lifecycle").
func (m *Manager) Detach(sessionID string) (canvasID string, wasAttached bool) {
	m.mu.Lock()
	info, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", false
	}
	delete(m.sessions, sessionID)
	r := m.rooms[info.canvasID]
	m.mu.Unlock()

	if r == nil {
		return info.canvasID, true
	}
	r.remove(sessionID)

	if r.isEmpty() {
		m.mu.Lock()
		if current, ok := m.rooms[info.canvasID]; ok && current == r && r.isEmpty() {
			delete(m.rooms, info.canvasID)
		}
		m.mu.Unlock()
	}

	return info.canvasID, true
}

// Broadcast sends data to every session attached to canvasId except
// excludeSessionID. A no-op if the room doesn't exist (e.g. the canvas
// currently has no attached sessions).
func (m *Manager) Broadcast(canvasID string, data []byte, excludeSessionID string) {
	m.mu.RLock()
	r := m.rooms[canvasID]
	m.mu.RUnlock()
	if r == nil {
		return
	}
	r.broadcast(data, excludeSessionID)
}

// UsersOf lists the users currently attached to canvasId.
func (m *Manager) UsersOf(canvasID string) []UserInfo {
	m.mu.RLock()
	r := m.rooms[canvasID]
	m.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.users()
}

// HasRoom reports whether canvasId currently has an attached room -
// exposed for the "Room lifecycle" testable property.
func (m *Manager) HasRoom(canvasID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[canvasID]
	return ok
}

// CanvasOf reports the canvas a session is currently attached to, if
// any.
func (m *Manager) CanvasOf(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	return info.canvasID, true
}

// Tick runs one liveness round: every attached session is either pinged
// (and marked awaiting a pong) or, if it never answered the previous
// ping, terminated - mirroring §4.E: "a session that did not answer the
// previous ping is terminated." It returns the sessionIds terminated
// this round so the caller (which owns the actual connection) can close
// it and notify peers.
func (m *Manager) Tick() []string {
	m.mu.RLock()
	infos := make([]*sessionInfo, 0, len(m.sessions))
	for _, info := range m.sessions {
		infos = append(infos, info)
	}
	m.mu.RUnlock()

	var terminated []string
	for _, info := range infos {
		if info.member.awaitingPong {
			terminated = append(terminated, info.member.sessionID)
			info.member.transport.Close()
			m.Detach(info.member.sessionID)
			continue
		}
		info.member.awaitingPong = true
		if !info.member.transport.Ping() {
			terminated = append(terminated, info.member.sessionID)
			info.member.transport.Close()
			m.Detach(info.member.sessionID)
		}
	}
	return terminated
}

// MarkAlive clears a session's awaiting-pong flag on pong arrival, per
// §4.E: "Pong arrival re-marks the session alive."
func (m *Manager) MarkAlive(sessionID string) {
	m.mu.RLock()
	info, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	info.member.awaitingPong = false
}
