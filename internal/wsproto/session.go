package wsproto

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Shashank188/CanvasCollab/internal/canvasevent"
	"github.com/Shashank188/CanvasCollab/internal/canvasstore"
	"github.com/Shashank188/CanvasCollab/internal/room"
	"github.com/Shashank188/CanvasCollab/internal/worker"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxPayloadSize = 1 << 20
)

// Conn is the subset of *websocket.Conn a session needs, narrowed so
// tests can substitute a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// session is one live client connection: JOIN_CANVAS/SHAPE_EVENT/etc
// are dispatched here against the shared room.Manager and
// canvasstore.Store.
type session struct {
	id       string
	userID   string
	username string

	conn      Conn
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	manager   *room.Manager
	store     canvasstore.Store
	compactor *worker.CompactionWorker
	logger    *slog.Logger

	canvasID string
}

func newSession(id, userID, username string, conn Conn, manager *room.Manager, store canvasstore.Store, compactor *worker.CompactionWorker, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:        id,
		userID:    userID,
		username:  username,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		manager:   manager,
		store:     store,
		compactor: compactor,
		logger:    logger,
	}
}

// maybeCompact notifies the compaction worker (if any) that canvasID
// just advanced to version. Safe to call with a nil compactor.
func (s *session) maybeCompact(canvasID string, version uint64) {
	if s.compactor != nil {
		s.compactor.MaybeCompact(canvasID, version)
	}
}

// Send implements room.Transport: a full buffer is a dropped fan-out
// per §5's backpressure policy, not an error.
func (s *session) Send(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		if s.logger != nil {
			s.logger.Warn("wsproto: dropping broadcast, send buffer full", "session", s.id)
		}
		return false
	}
}

// Ping implements room.Transport.
func (s *session) Ping() bool {
	err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	return err == nil
}

// Close implements room.Transport.
func (s *session) Close() {
	s.cancel()
	_ = s.conn.Close()
}

// run drives the session until the connection closes, then cleans up
// its room membership.
func (s *session) run() {
	go s.writeLoop()
	s.readLoop()

	s.cancel()
	if canvasID, wasAttached := s.manager.Detach(s.id); wasAttached {
		s.broadcastPresence(canvasID, TypeUserLeft)
	}
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxPayloadSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.manager.MarkAlive(s.id)
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatch(data)
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// dispatch decodes one inbound frame and routes it by type. Malformed
// JSON and unknown types are reported as ERROR without closing the
// session, per §7's Protocol error kind.
func (s *session) dispatch(data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendJSON(errorEnvelope("malformed JSON: " + err.Error()))
		return
	}

	switch env.Type {
	case TypeJoinCanvas:
		s.handleJoinCanvas(data)
	case TypeLeaveCanvas:
		s.handleLeaveCanvas()
	case TypeShapeEvent:
		s.handleShapeEvent(data)
	case TypeBatchSync:
		s.handleBatchSync(data)
	case TypeGetState:
		s.handleGetState(data)
	case TypeCursorMove:
		s.handleCursorMove(data)
	default:
		s.sendJSON(errorEnvelope("unknown message type: " + env.Type))
	}
}

func (s *session) handleJoinCanvas(data []byte) {
	var msg joinCanvasMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.CanvasID == "" {
		s.sendJSON(envelope(TypeJoinError, map[string]any{"canvasId": msg.CanvasID, "error": "canvasId is required"}))
		return
	}
	if msg.Username != "" {
		s.username = msg.Username
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	canvas, err := s.store.GetOrCreateCanvas(ctx, msg.CanvasID, "")
	if err != nil {
		s.sendJSON(envelope(TypeJoinError, map[string]any{"canvasId": msg.CanvasID, "error": err.Error()}))
		return
	}

	s.manager.Attach(s.id, canvas.ID, s.userID, s.username, s)
	s.canvasID = canvas.ID

	s.sendJSON(envelope(TypeJoinSuccess, map[string]any{
		"canvasId": canvas.ID,
		"userId":   s.userID,
		"username": s.username,
	}))

	s.sendCanvasState(ctx, canvas.ID)
	s.broadcastPresence(canvas.ID, TypeUserJoined)
}

func (s *session) handleLeaveCanvas() {
	canvasID, wasAttached := s.manager.Detach(s.id)
	if !wasAttached {
		return
	}
	s.canvasID = ""
	s.broadcastPresence(canvasID, TypeUserLeft)
}

func (s *session) handleShapeEvent(data []byte) {
	if s.canvasID == "" {
		s.sendJSON(errorEnvelope("SHAPE_EVENT requires an attached canvas"))
		return
	}

	var msg shapeEventMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendJSON(errorEnvelope("malformed SHAPE_EVENT: " + err.Error()))
		return
	}

	kind := canvasevent.Kind(msg.EventType)
	if !canvasevent.IsKnown(kind) {
		s.sendJSON(errorEnvelope("unknown eventType: " + msg.EventType))
		return
	}
	if !canvasevent.IsStorable(kind) {
		// Ephemeral kinds have their own message types (§9 open question 1).
		s.sendJSON(errorEnvelope("eventType " + msg.EventType + " must be sent via its own message type, not SHAPE_EVENT"))
		return
	}

	ctx := context.Background()
	result, err := s.store.StoreEvent(ctx, s.canvasID, s.userID, kind, msg.ShapeID, msg.Payload, msg.LocalEventID)
	if err != nil {
		s.sendJSON(envelope(TypeEventAck, map[string]any{
			"localEventId": msg.LocalEventID,
			"stored":       false,
			"error":        err.Error(),
		}))
		return
	}

	s.sendJSON(envelope(TypeEventAck, map[string]any{
		"localEventId": msg.LocalEventID,
		"eventId":      result.EventID,
		"version":      result.Version,
		"stored":       result.Stored,
		"hadConflict":  result.HadConflict,
	}))

	if !result.Stored {
		return
	}
	s.maybeCompact(s.canvasID, result.Version)

	broadcastPayload := map[string]any(result.Payload)
	out := envelope(TypeShapeEvent, map[string]any{
		"eventType": string(kind),
		"shapeId":   msg.ShapeID,
		"payload":   broadcastPayload,
		"userId":    s.userID,
		"version":   result.Version,
	})
	s.broadcastJSON(out)
}

func (s *session) handleBatchSync(data []byte) {
	if s.canvasID == "" {
		s.sendJSON(errorEnvelope("BATCH_SYNC requires an attached canvas"))
		return
	}

	var msg batchSyncMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendJSON(envelope(TypeBatchSyncResult, map[string]any{"success": false, "error": err.Error()}))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	missed, err := s.store.EventsSince(ctx, s.canvasID, msg.LastKnownVersion)
	if err != nil {
		s.sendJSON(envelope(TypeBatchSyncResult, map[string]any{"success": false, "error": err.Error()}))
		return
	}

	inputs := make([]canvasstore.BatchEventInput, 0, len(msg.Events))
	for _, e := range msg.Events {
		ts := time.Now().UTC()
		if e.Timestamp > 0 {
			ts = time.UnixMilli(e.Timestamp).UTC()
		}
		inputs = append(inputs, canvasstore.BatchEventInput{
			LocalEventID: e.LocalEventID,
			Kind:         canvasevent.Canonical(canvasevent.Kind(e.EventType)),
			ShapeID:      e.ShapeID,
			Payload:      e.Payload,
			UserID:       s.userID,
			Timestamp:    ts,
		})
	}

	batchResult, err := s.store.StoreBatch(ctx, s.canvasID, inputs)
	if err != nil {
		s.sendJSON(envelope(TypeBatchSyncResult, map[string]any{"success": false, "error": err.Error()}))
		return
	}

	state, err := s.store.GetCanvasState(ctx, s.canvasID)
	if err != nil {
		s.sendJSON(envelope(TypeBatchSyncResult, map[string]any{"success": false, "error": err.Error()}))
		return
	}

	s.sendJSON(envelope(TypeBatchSyncResult, map[string]any{
		"success":       true,
		"storedEvents":  eventResultsToWire(batchResult.Stored),
		"missedEvents":  eventDTOsToWire(missed),
		"currentState":  canvasStateToWire(state),
		"conflicts":     batchResult.Conflicts,
	}))

	for _, stored := range batchResult.Stored {
		out := envelope(TypeShapeEvent, map[string]any{
			"eventId":   stored.EventID,
			"eventType": string(stored.Kind),
			"shapeId":   stored.ShapeID,
			"payload":   map[string]any(stored.Payload),
			"userId":    s.userID,
			"version":   stored.Version,
		})
		s.broadcastJSON(out)
	}
	s.maybeCompact(s.canvasID, state.Version)
}

func (s *session) handleGetState(data []byte) {
	if s.canvasID == "" {
		s.sendJSON(errorEnvelope("GET_STATE requires an attached canvas"))
		return
	}

	var msg getStateMsg
	_ = json.Unmarshal(data, &msg)

	ctx := context.Background()
	if msg.SinceVersion != nil {
		events, err := s.store.EventsSince(ctx, s.canvasID, *msg.SinceVersion)
		if err != nil {
			s.sendJSON(errorEnvelope(err.Error()))
			return
		}
		s.sendJSON(envelope(TypeIncrementalUpdate, map[string]any{"events": eventDTOsToWire(events)}))
		return
	}

	s.sendCanvasState(ctx, s.canvasID)
}

func (s *session) handleCursorMove(data []byte) {
	if s.canvasID == "" {
		return
	}
	var msg cursorMoveMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendJSON(errorEnvelope("malformed CURSOR_MOVE: " + err.Error()))
		return
	}
	msg.UserID = s.userID
	msg.Username = s.username

	out := envelope(TypeCursorMove, map[string]any{
		"userId":   msg.UserID,
		"username": msg.Username,
		"x":        msg.X,
		"y":        msg.Y,
	})
	s.broadcastJSON(out)
}

func (s *session) sendCanvasState(ctx context.Context, canvasID string) {
	state, err := s.store.GetCanvasState(ctx, canvasID)
	if err != nil {
		s.sendJSON(errorEnvelope(err.Error()))
		return
	}
	users := s.manager.UsersOf(canvasID)
	wireUsers := make([]wireUser, 0, len(users))
	for _, u := range users {
		wireUsers = append(wireUsers, wireUser{UserID: u.UserID, Username: u.Username})
	}
	s.sendJSON(envelope(TypeCanvasState, map[string]any{
		"shapes":  shapesToWire(state.Shapes),
		"version": state.Version,
		"users":   wireUsers,
	}))
}

func (s *session) broadcastPresence(canvasID, msgType string) {
	out := envelope(msgType, map[string]any{"userId": s.userID, "username": s.username})
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	s.manager.Broadcast(canvasID, data, s.id)
}

func (s *session) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.Send(data)
}

func (s *session) broadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.manager.Broadcast(s.canvasID, data, s.id)
}

func shapesToWire(shapes []canvasstore.ShapeDTO) []wireShape {
	out := make([]wireShape, 0, len(shapes))
	for _, sh := range shapes {
		out = append(out, wireShape{ID: sh.ID, Type: sh.Type, ZIndex: sh.ZIndex, Properties: map[string]any(sh.Properties)})
	}
	return out
}

func canvasStateToWire(state canvasstore.CanvasState) map[string]any {
	return map[string]any{"shapes": shapesToWire(state.Shapes), "version": state.Version}
}

func eventDTOsToWire(events []canvasstore.EventDTO) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":        e.ID,
			"canvasId":  e.CanvasID,
			"shapeId":   e.ShapeID,
			"userId":    e.UserID,
			"eventType": string(e.Kind),
			"payload":   e.Payload,
			"version":   e.Version,
			"createdAt": e.CreatedAt,
		})
	}
	return out
}

func eventResultsToWire(results []canvasstore.StoreEventResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"eventId":     r.EventID,
			"version":     r.Version,
			"payload":     map[string]any(r.Payload),
			"stored":      r.Stored,
			"hadConflict": r.HadConflict,
		})
	}
	return out
}
