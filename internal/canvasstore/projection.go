package canvasstore

import (
	"time"

	"github.com/Shashank188/CanvasCollab/internal/canvasevent"
	"github.com/Shashank188/CanvasCollab/internal/vectorclock"

	"gorm.io/gorm"
)

// projectionInput carries everything the fold needs to apply one event
// to the materialised Shape row, per spec.md §4.D.1's rules table:
// SHAPE_CREATED upserts, SHAPE_EDITED shallow-merges, SHAPE_MOVED and
// DRAG_END patch position, SHAPE_DELETED tombstones, and
// POINTER_DOWN/DRAG_START/USER_CONNECTED/USER_DISCONNECTED are audit-only
// no-ops.
type projectionInput struct {
	canvasID  string
	shapeID   *string
	existing  *Shape
	kind      canvasevent.Kind
	userID    string
	diff      canvasevent.Properties
	causality canvasevent.CausalityFields
	shapeType string
	zIndex    int
	now       time.Time
}

// shapeFold is the result of folding one event onto a shape's prior
// state: a pure computation with no database dependency, so the §4.D.1
// rules table can be tested directly. noop is true when the event has
// no projection effect (no shapeId, deleted kind with no shape, or an
// audit-only kind).
type shapeFold struct {
	noop               bool
	create             bool
	tombstone          bool
	properties         canvasevent.Properties
	propertyTimestamps map[string]int64
	vectorClock        vectorclock.Clock
}

// foldShapeEvent implements §4.D.1's projection table as a pure
// function: given the shape's prior state (or none, for a create) and
// one incoming event, it returns the new state to persist.
func foldShapeEvent(in projectionInput) shapeFold {
	if in.shapeID == nil {
		return shapeFold{noop: true}
	}

	switch in.kind {
	case canvasevent.ShapeCreated:
		timestamps := make(map[string]int64, len(in.diff))
		for k := range in.diff {
			timestamps[k] = in.now.UnixMilli()
		}
		clock := vectorclock.New()
		if in.existing != nil {
			clock = vectorclock.Clock(toUintMap(map[string]any(in.existing.VectorClock)))
		}
		clock = clock.Merge(vectorclock.Clock(in.causality.VectorClock)).Inc(in.userID)

		return shapeFold{
			create:             true,
			properties:         in.diff,
			propertyTimestamps: timestamps,
			vectorClock:        clock,
		}

	case canvasevent.ShapeEdited, canvasevent.ShapeMoved, canvasevent.DragEnd:
		if in.existing == nil || len(in.diff) == 0 {
			return shapeFold{noop: true}
		}

		merged := canvasevent.MergeProperties(canvasevent.Properties(in.existing.Properties), in.diff)

		timestamps := make(map[string]int64, len(in.existing.PropertyTimestamps)+len(in.diff))
		for k, v := range toInt64MapFromJSON(in.existing.PropertyTimestamps) {
			timestamps[k] = v
		}
		for k := range in.diff {
			timestamps[k] = in.now.UnixMilli()
		}

		clock := vectorclock.Clock(toUintMap(map[string]any(in.existing.VectorClock))).
			Merge(vectorclock.Clock(in.causality.VectorClock)).
			Inc(in.userID)

		return shapeFold{
			properties:         merged,
			propertyTimestamps: timestamps,
			vectorClock:        clock,
		}

	case canvasevent.ShapeDeleted:
		if in.existing == nil {
			return shapeFold{noop: true}
		}
		return shapeFold{tombstone: true}

	default:
		// POINTER_DOWN, DRAG_START, USER_CONNECTED, USER_DISCONNECTED:
		// recorded in the log for audit/presence but have no effect on
		// the shape projection.
		return shapeFold{noop: true}
	}
}

func applyProjection(tx *gorm.DB, in projectionInput) error {
	fold := foldShapeEvent(in)
	if fold.noop {
		return nil
	}

	if fold.tombstone {
		return tx.Model(&Shape{}).Where("id = ? AND canvas_id = ?", *in.shapeID, in.canvasID).
			Updates(map[string]any{"deleted_at": in.now}).Error
	}

	propsJSON := JSONMap(fold.properties)
	timestampsJSON := JSONMap{}
	for k, v := range fold.propertyTimestamps {
		timestampsJSON[k] = v
	}
	clockJSON := JSONMap{}
	for k, v := range fold.vectorClock {
		clockJSON[k] = v
	}

	if fold.create {
		shape := Shape{
			ID:                 *in.shapeID,
			CanvasID:           in.canvasID,
			Type:               in.shapeType,
			Properties:         propsJSON,
			ZIndex:             in.zIndex,
			CreatedAt:          in.now,
			UpdatedAt:          in.now,
			PropertyTimestamps: timestampsJSON,
			VectorClock:        clockJSON,
		}
		if in.existing != nil {
			// Idempotent recreation of the same id: treat as an update
			// rather than a duplicate insert.
			return tx.Model(&Shape{}).Where("id = ? AND canvas_id = ?", *in.shapeID, in.canvasID).
				Updates(map[string]any{
					"type":                in.shapeType,
					"properties":          propsJSON,
					"z_index":             in.zIndex,
					"updated_at":          in.now,
					"deleted_at":          nil,
					"property_timestamps": timestampsJSON,
					"vector_clock":        clockJSON,
				}).Error
		}
		return tx.Create(&shape).Error
	}

	return tx.Model(&Shape{}).Where("id = ? AND canvas_id = ?", *in.shapeID, in.canvasID).
		Updates(map[string]any{
			"properties":          propsJSON,
			"updated_at":          in.now,
			"property_timestamps": timestampsJSON,
			"vector_clock":        clockJSON,
		}).Error
}
