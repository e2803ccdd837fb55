// Package canvasevent defines the closed set of event kinds a canvas can
// emit, which of them are storable (appended to the log and folded into
// the shape projection) versus ephemeral (broadcast only), and the shape
// of their payloads.
package canvasevent

import "encoding/json"

// Kind is one of the event kinds a client may send or the server may
// store. The set is closed: isStorable and Normalize both reject anything
// outside it at the boundary.
type Kind string

const (
	UserConnected    Kind = "USER_CONNECTED"
	UserDisconnected Kind = "USER_DISCONNECTED"
	PointerDown      Kind = "POINTER_DOWN"
	DragStart        Kind = "DRAG_START"
	DragEnd          Kind = "DRAG_END"
	ShapeCreated     Kind = "SHAPE_CREATED"
	ShapeEdited      Kind = "SHAPE_EDITED"
	ShapeMoved       Kind = "SHAPE_MOVED"
	ShapeDeleted     Kind = "SHAPE_DELETED"

	// Ephemeral kinds: never stored, only ever broadcast, and rejected if
	// they arrive on the SHAPE_EVENT wire message (§9 open question #1).
	CursorMove Kind = "CURSOR_MOVE"
	DragMove   Kind = "DRAG_MOVE"
)

// Legacy kinds accepted for backward-compatible reads/writes, mapped onto
// the canonical set's projection effects (§4.D.1).
const (
	LegacyShapeUpdated  Kind = "SHAPE_UPDATED"
	LegacyShapeResized  Kind = "SHAPE_RESIZED"
	LegacyShapeRotated  Kind = "SHAPE_ROTATED"
	LegacyShapeRestored Kind = "SHAPE_RESTORED"
	LegacyZIndexChanged Kind = "Z_INDEX_CHANGED"
)

var storable = map[Kind]bool{
	UserConnected:    true,
	UserDisconnected: true,
	PointerDown:      true,
	DragStart:        true,
	DragEnd:          true,
	ShapeCreated:     true,
	ShapeEdited:      true,
	ShapeMoved:       true,
	ShapeDeleted:     true,

	LegacyShapeUpdated:  true,
	LegacyShapeResized:  true,
	LegacyShapeRotated:  true,
	LegacyShapeRestored: true,
	LegacyZIndexChanged: true,
}

var known = map[Kind]bool{
	CursorMove: true,
	DragMove:   true,
}

func init() {
	for k := range storable {
		known[k] = true
	}
}

// IsStorable reports whether kind is appended to the event log and
// contributes to the shape projection. Total and pure.
func IsStorable(kind Kind) bool {
	return storable[kind]
}

// IsKnown reports whether kind is part of the closed taxonomy at all
// (storable or ephemeral). Unknown kinds are rejected at the boundary.
func IsKnown(kind Kind) bool {
	return known[kind]
}

// Canonical maps a legacy kind onto the canonical kind whose projection
// effect it inherits. Canonical kinds map to themselves.
func Canonical(kind Kind) Kind {
	switch kind {
	case LegacyShapeUpdated, LegacyShapeResized, LegacyShapeRotated, LegacyZIndexChanged:
		return ShapeEdited
	case LegacyShapeRestored:
		return ShapeCreated
	default:
		return kind
	}
}

// Properties is the semi-structured map of geometry/styling/transform
// fields carried by a shape or an edit payload.
type Properties map[string]any

// Position holds the normalised x/y carried by SHAPE_MOVED and DRAG_END.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ShapeCreatedPayload is the payload of a SHAPE_CREATED event.
type ShapeCreatedPayload struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
	ZIndex     int         `json:"zIndex"`
}

// ShapeEditedPayload is the payload of a SHAPE_EDITED event: a partial
// properties map to shallow-merge into the shape row.
type ShapeEditedPayload struct {
	Properties Properties `json:"properties"`
}

// ShapeMovedPayload is the payload of a SHAPE_MOVED event.
type ShapeMovedPayload struct {
	Position Position `json:"position"`
}

// DragEndPayload is the payload of a DRAG_END event.
type DragEndPayload struct {
	StartPosition *Position `json:"startPosition,omitempty"`
	EndPosition   *Position `json:"endPosition,omitempty"`
	Timestamp     int64     `json:"timestamp,omitempty"`
}

// CausalityFields are carried on any storable event's payload for use by
// the conflict resolver; the projector ignores them.
type CausalityFields struct {
	VectorClock        map[string]uint64 `json:"vectorClock,omitempty"`
	PropertyTimestamps map[string]int64  `json:"propertyTimestamps,omitempty"`
}

// NormalizeProperties accepts both the nested form (payload.properties.x)
// and the flat form (payload.x) for positions and properties, per the
// Design Note in spec.md §9, and returns the canonical nested form: a
// flat Properties map with geometry/styling/transform keys.
func NormalizeProperties(raw map[string]any) Properties {
	out := Properties{}
	if nested, ok := raw["properties"].(map[string]any); ok {
		for k, v := range nested {
			out[k] = v
		}
	}
	for k, v := range raw {
		if k == "properties" || k == "type" || k == "zIndex" || k == "vectorClock" || k == "propertyTimestamps" {
			continue
		}
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}

// NormalizePosition accepts {position:{x,y}} or flat {x,y} and returns a
// canonical Position, reporting ok=false if neither form is present.
func NormalizePosition(raw map[string]any) (Position, bool) {
	if nested, ok := raw["position"].(map[string]any); ok {
		return positionFromMap(nested)
	}
	if _, hasX := raw["x"]; hasX {
		return positionFromMap(raw)
	}
	return Position{}, false
}

func positionFromMap(m map[string]any) (Position, bool) {
	x, xok := toFloat(m["x"])
	y, yok := toFloat(m["y"])
	if !xok || !yok {
		return Position{}, false
	}
	return Position{X: x, Y: y}, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// MergeProperties shallow-merges overlay into base, returning a new map;
// base is never mutated.
func MergeProperties(base, overlay Properties) Properties {
	out := make(Properties, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
