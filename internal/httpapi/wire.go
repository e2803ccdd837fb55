package httpapi

import (
	"encoding/json"

	"github.com/Shashank188/CanvasCollab/internal/canvasstore"
)

// wireShape inlines a shape's properties at the top level alongside its
// id/type/zIndex, matching the CANVAS_STATE.shapes[] shape wsproto sends
// over the WebSocket so read-API clients see the same JSON.
type wireShape struct {
	ID         string
	Type       string
	ZIndex     int
	Properties map[string]any
}

func (w wireShape) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(w.Properties)+3)
	for k, v := range w.Properties {
		out[k] = v
	}
	out["id"] = w.ID
	out["type"] = w.Type
	out["zIndex"] = w.ZIndex
	return json.Marshal(out)
}

func wireShapes(shapes []canvasstore.ShapeDTO) []wireShape {
	out := make([]wireShape, 0, len(shapes))
	for _, s := range shapes {
		out = append(out, wireShape{ID: s.ID, Type: s.Type, ZIndex: s.ZIndex, Properties: s.Properties})
	}
	return out
}

func wireCanvasState(state canvasstore.CanvasState) map[string]any {
	return map[string]any{
		"shapes":  wireShapes(state.Shapes),
		"version": state.Version,
	}
}

func wireCanvas(canvas *canvasstore.Canvas) map[string]any {
	return map[string]any{
		"id":        canvas.ID,
		"name":      canvas.Name,
		"version":   canvas.Version,
		"createdAt": canvas.CreatedAt,
		"updatedAt": canvas.UpdatedAt,
	}
}

func wireEvent(e canvasstore.EventDTO) map[string]any {
	return map[string]any{
		"id":        e.ID,
		"canvasId":  e.CanvasID,
		"shapeId":   e.ShapeID,
		"userId":    e.UserID,
		"eventType": string(e.Kind),
		"payload":   e.Payload,
		"version":   e.Version,
		"createdAt": e.CreatedAt,
	}
}

func wireEvents(events []canvasstore.EventDTO) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, wireEvent(e))
	}
	return out
}

func wireStoreResult(r canvasstore.StoreEventResult) map[string]any {
	return map[string]any{
		"eventId":     r.EventID,
		"eventType":   string(r.Kind),
		"shapeId":     r.ShapeID,
		"version":     r.Version,
		"payload":     r.Payload,
		"stored":      r.Stored,
		"hadConflict": r.HadConflict,
	}
}

func wireStoreResults(results []canvasstore.StoreEventResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, wireStoreResult(r))
	}
	return out
}
