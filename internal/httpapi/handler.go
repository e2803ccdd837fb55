// Package httpapi is the thin HTTP companion of §6: read-only canvas
// endpoints plus a single POST sync route sharing storeBatch's
// semantics with BATCH_SYNC, grounded on the teacher's
// document/handler.go + cmd/server/main.go router wiring.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Shashank188/CanvasCollab/internal/apierror"
	"github.com/Shashank188/CanvasCollab/internal/cache"
	"github.com/Shashank188/CanvasCollab/internal/canvasevent"
	"github.com/Shashank188/CanvasCollab/internal/canvasstore"
	"github.com/Shashank188/CanvasCollab/internal/room"
	"github.com/Shashank188/CanvasCollab/internal/wsproto"

	"github.com/gin-gonic/gin"
)

// Handler serves the read APIs and sync companion route. Cache is
// optional; a nil Cache just skips the version-tag write-through. Rooms
// is optional too; a nil Rooms just skips fan-out, which only matters
// for tests that don't stand up a live room manager.
type Handler struct {
	Store canvasstore.Store
	Cache *cache.Cache
	Rooms *room.Manager
}

func NewHandler(store canvasstore.Store, cache *cache.Cache, rooms *room.Manager) *Handler {
	return &Handler{Store: store, Cache: cache, Rooms: rooms}
}

// GetCanvas handles GET /api/canvas/:id.
func (h *Handler) GetCanvas(c *gin.Context) {
	id := c.Param("id")

	canvas, err := h.Store.GetOrCreateCanvas(c.Request.Context(), id, "")
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	c.JSON(http.StatusOK, wireCanvas(canvas))
}

// GetCanvasState handles GET /api/canvas/:id/state. A caller may pass
// ?knownVersion=N to skip the Postgres round trip entirely when the
// version-tag cache confirms its copy is still current.
func (h *Handler) GetCanvasState(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if h.Cache != nil {
		if knownVersion, ok, err := parseKnownVersionParam(c.Query("knownVersion")); err != nil {
			c.Error(apierror.ErrInvalidInput(err))
			return
		} else if ok {
			if cached, found, err := h.Cache.GetVersion(ctx, id); err == nil && found && cached == knownVersion {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	state, err := h.Store.GetCanvasState(ctx, id)
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	if h.Cache != nil {
		_ = h.Cache.SetVersion(ctx, id, state.Version)
	}

	c.JSON(http.StatusOK, wireCanvasState(state))
}

func parseKnownVersionParam(raw string) (uint64, bool, error) {
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// GetCanvasEvents handles GET /api/canvas/:id/events?since=N.
func (h *Handler) GetCanvasEvents(c *gin.Context) {
	id := c.Param("id")

	since, err := parseSinceParam(c.Query("since"))
	if err != nil {
		c.Error(apierror.ErrInvalidInput(err))
		return
	}

	events, err := h.Store.EventsSince(c.Request.Context(), id, since)
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": wireEvents(events)})
}

func parseSinceParam(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

type createCanvasForm struct {
	CanvasID string `json:"canvasId" binding:"required"`
	Name     string `json:"name"`
}

// CreateCanvas handles POST /api/canvas, idempotent on canvasId.
func (h *Handler) CreateCanvas(c *gin.Context) {
	var form createCanvasForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierror.ErrInvalidInput(err))
		return
	}

	canvas, err := h.Store.GetOrCreateCanvas(c.Request.Context(), form.CanvasID, form.Name)
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	c.JSON(http.StatusCreated, wireCanvas(canvas))
}

type syncEventForm struct {
	LocalEventID string         `json:"localEventId"`
	EventType    string         `json:"eventType"`
	ShapeID      *string        `json:"shapeId,omitempty"`
	Payload      map[string]any `json:"payload"`
	Timestamp    int64          `json:"timestamp,omitempty"`
}

type syncForm struct {
	Events           []syncEventForm `json:"events"`
	LastKnownVersion uint64          `json:"lastKnownVersion"`
	UserID           string          `json:"userId" binding:"required"`
}

// SyncCanvas handles POST /api/canvas/:id/sync, the HTTP equivalent of
// the WebSocket session protocol's BATCH_SYNC for a client issuing a
// one-shot replay instead of holding a live connection open.
func (h *Handler) SyncCanvas(c *gin.Context) {
	id := c.Param("id")

	var form syncForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(apierror.ErrInvalidInput(err))
		return
	}

	ctx := c.Request.Context()

	missed, err := h.Store.EventsSince(ctx, id, form.LastKnownVersion)
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	inputs := make([]canvasstore.BatchEventInput, 0, len(form.Events))
	for _, e := range form.Events {
		ts := time.Now()
		if e.Timestamp > 0 {
			ts = time.UnixMilli(e.Timestamp)
		}
		inputs = append(inputs, canvasstore.BatchEventInput{
			LocalEventID: e.LocalEventID,
			Kind:         canvasevent.Canonical(canvasevent.Kind(e.EventType)),
			ShapeID:      e.ShapeID,
			Payload:      e.Payload,
			UserID:       form.UserID,
			Timestamp:    ts,
		})
	}

	result, err := h.Store.StoreBatch(ctx, id, inputs)
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	state, err := h.Store.GetCanvasState(ctx, id)
	if err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	if h.Cache != nil {
		_ = h.Cache.SetVersion(ctx, id, state.Version)
	}

	h.broadcastStored(id, result.Stored, form.UserID)

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"storedEvents": wireStoreResults(result.Stored),
		"missedEvents": wireEvents(missed),
		"currentState": wireCanvasState(state),
		"conflicts":    result.Conflicts,
	})
}

// broadcastStored fans each stored event out to live WebSocket sessions
// on the canvas, the same SHAPE_EVENT frame wsproto's handleBatchSync
// sends, so a write arriving over the HTTP sync route is indistinguishable
// to peers from one arriving over the socket (§4.F fan-out completeness).
func (h *Handler) broadcastStored(canvasID string, stored []canvasstore.StoreEventResult, userID string) {
	if h.Rooms == nil {
		return
	}
	for _, ev := range stored {
		if !ev.Stored {
			continue
		}
		frame := map[string]any{
			"type":      wsproto.TypeShapeEvent,
			"eventId":   ev.EventID,
			"eventType": string(ev.Kind),
			"shapeId":   ev.ShapeID,
			"payload":   map[string]any(ev.Payload),
			"userId":    userID,
			"version":   ev.Version,
		}
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		h.Rooms.Broadcast(canvasID, data, "")
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CompactCanvas handles the process-internal snapshot/compaction
// trigger, protected by middleware.Auth.InternalAuthMiddleware rather
// than a per-user token.
func (h *Handler) CompactCanvas(c *gin.Context) {
	id := c.Param("id")

	if err := h.Store.CreateSnapshot(c.Request.Context(), id); err != nil {
		c.Error(apierror.ErrInternalServer(err))
		return
	}

	if h.Cache != nil {
		_ = h.Cache.InvalidateVersion(c.Request.Context(), id)
	}

	c.Status(http.StatusNoContent)
}
