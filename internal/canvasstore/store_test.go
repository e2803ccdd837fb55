package canvasstore

import (
	"testing"
	"time"

	"github.com/Shashank188/CanvasCollab/internal/canvasevent"

	"github.com/stretchr/testify/assert"
)

// Universal law: projection is a pure fold. SHAPE_CREATED followed by a
// SHAPE_EDITED yields the same properties regardless of how the
// intermediate state is threaded through, as long as events are applied
// in order - exercised here by folding the same two events twice and
// checking the results agree.
func TestFoldIsPureAndDeterministic(t *testing.T) {
	now := time.Unix(1000, 0).UTC()
	shapeID := "shape-1"

	createIn := projectionInput{
		canvasID:  "c1",
		shapeID:   &shapeID,
		kind:      canvasevent.ShapeCreated,
		userID:    "user-a",
		diff:      canvasevent.Properties{"x": 1.0, "y": 2.0},
		shapeType: "rectangle",
		now:       now,
	}
	first := foldShapeEvent(createIn)
	second := foldShapeEvent(createIn)

	assert.Equal(t, first.properties, second.properties)
	assert.Equal(t, first.vectorClock, second.vectorClock)
	assert.True(t, first.create)
}

// Scenario 1 from spec.md §8: folding a SHAPE_CREATED event produces a
// shape whose properties equal the event's diff and whose vector clock
// has been advanced for the creating user.
func TestFoldShapeCreated(t *testing.T) {
	shapeID := "shape-1"
	now := time.Unix(2000, 0).UTC()

	fold := foldShapeEvent(projectionInput{
		shapeID:   &shapeID,
		kind:      canvasevent.ShapeCreated,
		userID:    "user-a",
		diff:      canvasevent.Properties{"x": 10.0, "width": 5.0},
		shapeType: "rectangle",
		now:       now,
	})

	assert.True(t, fold.create)
	assert.Equal(t, 10.0, fold.properties["x"])
	assert.Equal(t, 5.0, fold.properties["width"])
	assert.EqualValues(t, 1, fold.vectorClock.Get("user-a"))
	assert.EqualValues(t, now.UnixMilli(), fold.propertyTimestamps["x"])
}

// SHAPE_EDITED shallow-merges the diff into the existing properties,
// leaving untouched keys intact.
func TestFoldShapeEditedShallowMerges(t *testing.T) {
	shapeID := "shape-1"
	existing := &Shape{
		ID:                 shapeID,
		Properties:         JSONMap{"x": 1.0, "y": 2.0, "fill": "#fff"},
		PropertyTimestamps: JSONMap{"x": int64(500), "y": int64(500)},
		VectorClock:        JSONMap{"user-a": 1.0},
	}

	fold := foldShapeEvent(projectionInput{
		shapeID:  &shapeID,
		existing: existing,
		kind:     canvasevent.ShapeEdited,
		userID:   "user-b",
		diff:     canvasevent.Properties{"fill": "#000"},
		now:      time.Unix(3000, 0).UTC(),
	})

	assert.False(t, fold.create)
	assert.False(t, fold.noop)
	assert.Equal(t, 1.0, fold.properties["x"], "untouched key survives the merge")
	assert.Equal(t, "#000", fold.properties["fill"])
	assert.EqualValues(t, 1, fold.vectorClock.Get("user-a"), "prior clock entries are preserved")
	assert.EqualValues(t, 1, fold.vectorClock.Get("user-b"), "the editor's entry is incremented")
}

// SHAPE_EDITED against a shape that doesn't exist (e.g. a stale client
// referencing a deleted shape) is a no-op rather than a crash.
func TestFoldShapeEditedMissingShapeIsNoop(t *testing.T) {
	shapeID := "missing"
	fold := foldShapeEvent(projectionInput{
		shapeID: &shapeID,
		kind:    canvasevent.ShapeEdited,
		diff:    canvasevent.Properties{"x": 1.0},
		now:     time.Now(),
	})
	assert.True(t, fold.noop)
}

// Scenario 3 from spec.md §8: SHAPE_DELETED tombstones rather than
// producing new properties.
func TestFoldShapeDeletedTombstones(t *testing.T) {
	shapeID := "shape-3"
	existing := &Shape{ID: shapeID, Properties: JSONMap{"x": 1.0}}

	fold := foldShapeEvent(projectionInput{
		shapeID:  &shapeID,
		existing: existing,
		kind:     canvasevent.ShapeDeleted,
		now:      time.Now(),
	})

	assert.True(t, fold.tombstone)
}

// POINTER_DOWN, DRAG_START, USER_CONNECTED, and USER_DISCONNECTED never
// touch the shape projection.
func TestFoldAuditOnlyKindsAreNoops(t *testing.T) {
	shapeID := "shape-audit"
	for _, kind := range []canvasevent.Kind{
		canvasevent.PointerDown, canvasevent.DragStart,
		canvasevent.UserConnected, canvasevent.UserDisconnected,
	} {
		fold := foldShapeEvent(projectionInput{
			shapeID: &shapeID,
			kind:    kind,
			diff:    canvasevent.Properties{"x": 1.0},
			now:     time.Now(),
		})
		assert.True(t, fold.noop, "%s should not affect the projection", kind)
	}
}

// An event with no shapeId never touches the projection, regardless of
// kind.
func TestFoldWithoutShapeIDIsNoop(t *testing.T) {
	fold := foldShapeEvent(projectionInput{
		kind: canvasevent.ShapeCreated,
		diff: canvasevent.Properties{"x": 1.0},
		now:  time.Now(),
	})
	assert.True(t, fold.noop)
}

// Scenario 4 from spec.md §8, run through the server-side conflict path:
// two edits landing within the conflict window touch disjoint keys and
// both survive in the merged result, flagged hadConflict.
func TestResolveEditConflictMergesDisjointKeysWithinWindow(t *testing.T) {
	now := time.Unix(10_000, 0).UTC()
	shape := &Shape{
		UpdatedAt:          now.Add(-200 * time.Millisecond),
		Properties:         JSONMap{"strokeColor": "#000", "strokeWidth": 2.0},
		PropertyTimestamps: JSONMap{"strokeColor": now.Add(-200 * time.Millisecond).UnixMilli()},
		VectorClock:        JSONMap{"user-a": 1.0},
	}

	diff := canvasevent.Properties{"strokeWidth": 5.0}
	result, hadConflict := resolveEditConflict(shape, diff, canvasevent.CausalityFields{}, now)

	assert.True(t, hadConflict)
	assert.Equal(t, 5.0, result["strokeWidth"])
}

// An edit arriving outside the conflict window, with no vector clock, is
// treated as a normal non-conflicting edit.
func TestResolveEditConflictOutsideWindowIsNotAConflict(t *testing.T) {
	now := time.Unix(20_000, 0).UTC()
	shape := &Shape{
		UpdatedAt:  now.Add(-10 * time.Second),
		Properties: JSONMap{"x": 1.0},
	}

	diff := canvasevent.Properties{"x": 2.0}
	result, hadConflict := resolveEditConflict(shape, diff, canvasevent.CausalityFields{}, now)

	assert.False(t, hadConflict)
	assert.Equal(t, 2.0, result["x"])
}

// A remote edit whose vector clock happens-before the shape's recorded
// clock is stale: the resolver reports a conflict but the returned diff
// is a no-op, so the shallow-merge projection rule leaves the shape
// unchanged.
func TestResolveEditConflictStaleRemoteIsNoop(t *testing.T) {
	now := time.Unix(30_000, 0).UTC()
	shape := &Shape{
		UpdatedAt:   now,
		Properties:  JSONMap{"x": 1.0},
		VectorClock: JSONMap{"user-a": 5.0},
	}

	diff := canvasevent.Properties{"x": 999.0}
	causality := canvasevent.CausalityFields{VectorClock: map[string]uint64{"user-a": 1}}
	result, hadConflict := resolveEditConflict(shape, diff, causality, now)

	assert.True(t, hadConflict)
	assert.Empty(t, result)
}

// JSONMap round-trips through Value/Scan, including the empty-map case.
func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"x": 1.0, "label": "a"}
	v, err := m.Value()
	assert.NoError(t, err)

	var out JSONMap
	assert.NoError(t, out.Scan(v))
	assert.Equal(t, 1.0, out["x"])
	assert.Equal(t, "a", out["label"])

	var empty JSONMap
	assert.NoError(t, empty.Scan(nil))
	assert.Equal(t, JSONMap{}, empty)
}
