// Package canvasstore is the persistent event store and shape
// projection of spec.md §4.D: an append-only per-canvas event log with a
// dense monotonic version counter, folded into a materialised shape
// table. Grounded on the teacher's document/repository.go — the
// per-canvas `UPDATE ... RETURNING` sequence allocation and the
// snapshot/compaction bookkeeping are the same shape, adapted from
// Yjs-binary documents to structured shape events.
package canvasstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shashank188/CanvasCollab/internal/canvasevent"
	"github.com/Shashank188/CanvasCollab/internal/conflict"
	"github.com/Shashank188/CanvasCollab/internal/vectorclock"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConflictWindow is the heuristic window of §4.D: a shape update arriving
// within this long of the shape row's last update is treated as a
// possible conflict when the event carries no vector clock of its own.
const ConflictWindow = time.Second

// StoreEventResult is storeEvent's return value per spec.md §4.D.
type StoreEventResult struct {
	EventID     string
	ShapeID     *string
	Kind        canvasevent.Kind
	Version     uint64
	Payload     canvasevent.Properties
	Stored      bool
	HadConflict bool
}

// BatchEventInput is one entry of a BATCH_SYNC/storeBatch request.
type BatchEventInput struct {
	LocalEventID string
	Kind         canvasevent.Kind
	ShapeID      *string
	Payload      map[string]any
	UserID       string
	Timestamp    time.Time
}

// BatchResult is storeBatch's return value.
type BatchResult struct {
	Stored    []StoreEventResult
	Conflicts []string // event IDs flagged hadConflict
}

// CanvasState is getCanvasState's return value: live shapes ordered by
// zIndex ascending, with the canvas's current max version.
type CanvasState struct {
	Shapes  []ShapeDTO
	Version uint64
}

// ShapeDTO inlines a shape's properties at the top level alongside its
// id/type/zIndex, per §6's wire shape for CANVAS_STATE.shapes[].
type ShapeDTO struct {
	ID         string
	Type       string
	ZIndex     int
	Properties canvasevent.Properties
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EventDTO is one row of eventsSince's return value.
type EventDTO struct {
	ID        string
	CanvasID  string
	ShapeID   *string
	UserID    string
	Kind      canvasevent.Kind
	Payload   map[string]any
	Version   uint64
	CreatedAt time.Time
}

// Store is the persistent event store interface exposed to the session
// protocol (§4.F), the HTTP companion (§6), and the compaction worker.
type Store interface {
	GetOrCreateCanvas(ctx context.Context, id, name string) (*Canvas, error)
	StoreEvent(ctx context.Context, canvasID, userID string, kind canvasevent.Kind, shapeID *string, payload map[string]any, localEventID string) (StoreEventResult, error)
	StoreBatch(ctx context.Context, canvasID string, events []BatchEventInput) (BatchResult, error)
	GetCanvasState(ctx context.Context, canvasID string) (CanvasState, error)
	EventsSince(ctx context.Context, canvasID string, sinceVersion uint64) ([]EventDTO, error)
	CreateSnapshot(ctx context.Context, canvasID string) error
	NearestSnapshot(ctx context.Context, canvasID string) (*CanvasSnapshot, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore constructs a Store backed by the given GORM connection.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) GetOrCreateCanvas(ctx context.Context, id, name string) (*Canvas, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	var canvas Canvas
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&canvas, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			canvas = Canvas{ID: id, Name: name, Version: 0, CreatedAt: now, UpdatedAt: now}
			if canvas.Name == "" {
				canvas.Name = "Untitled canvas"
			}
			return tx.Create(&canvas).Error
		}
		if err != nil {
			return err
		}
		canvas.UpdatedAt = now
		return tx.Model(&Canvas{}).Where("id = ?", id).Update("updated_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return &canvas, nil
}

// StoreEvent implements the atomic write protocol of §4.D: lock the
// canvas row, allocate the next version, apply the projection, bump
// updated_at, commit.
func (s *gormStore) StoreEvent(
	ctx context.Context,
	canvasID, userID string,
	kind canvasevent.Kind,
	shapeID *string,
	payload map[string]any,
	localEventID string,
) (StoreEventResult, error) {
	if !canvasevent.IsStorable(kind) {
		var canvas Canvas
		if err := s.db.WithContext(ctx).First(&canvas, "id = ?", canvasID).Error; err != nil {
			return StoreEventResult{}, err
		}
		return StoreEventResult{Version: canvas.Version, Stored: false}, nil
	}

	if localEventID != "" {
		if existing, ok, err := s.findByLocalEventID(ctx, canvasID, localEventID); err != nil {
			return StoreEventResult{}, err
		} else if ok {
			return existing, nil
		}
	}

	var result StoreEventResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		canvas, err := lockCanvas(tx, canvasID)
		if err != nil {
			return err
		}

		result, err = applyOneEvent(tx, canvas, userID, kind, shapeID, payload, localEventID, time.Now().UTC())
		return err
	})
	if err != nil {
		return StoreEventResult{}, err
	}
	return result, nil
}

// StoreBatch implements §4.D's storeBatch: one transaction, per-event
// conflict detection and version allocation, accumulating conflicts.
func (s *gormStore) StoreBatch(ctx context.Context, canvasID string, events []BatchEventInput) (BatchResult, error) {
	result := BatchResult{Stored: make([]StoreEventResult, 0, len(events))}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		canvas, err := lockCanvas(tx, canvasID)
		if err != nil {
			return err
		}

		for _, in := range events {
			if in.LocalEventID != "" {
				if existing, ok, err := findByLocalEventIDTx(tx, canvasID, in.LocalEventID); err != nil {
					return err
				} else if ok {
					result.Stored = append(result.Stored, existing)
					continue
				}
			}

			ts := in.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}

			one, err := applyOneEvent(tx, canvas, in.UserID, in.Kind, in.ShapeID, in.Payload, in.LocalEventID, ts)
			if err != nil {
				return err
			}
			result.Stored = append(result.Stored, one)
			if one.HadConflict {
				result.Conflicts = append(result.Conflicts, one.EventID)
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	return result, nil
}

func (s *gormStore) GetCanvasState(ctx context.Context, canvasID string) (CanvasState, error) {
	var canvas Canvas
	if err := s.db.WithContext(ctx).First(&canvas, "id = ?", canvasID).Error; err != nil {
		return CanvasState{}, err
	}

	var shapes []Shape
	if err := s.db.WithContext(ctx).
		Where("canvas_id = ? AND deleted_at IS NULL", canvasID).
		Order("z_index ASC").
		Find(&shapes).Error; err != nil {
		return CanvasState{}, err
	}

	dtos := make([]ShapeDTO, 0, len(shapes))
	for _, sh := range shapes {
		dtos = append(dtos, ShapeDTO{
			ID:         sh.ID,
			Type:       sh.Type,
			ZIndex:     sh.ZIndex,
			Properties: canvasevent.Properties(sh.Properties),
			CreatedAt:  sh.CreatedAt,
			UpdatedAt:  sh.UpdatedAt,
		})
	}

	return CanvasState{Shapes: dtos, Version: canvas.Version}, nil
}

func (s *gormStore) EventsSince(ctx context.Context, canvasID string, sinceVersion uint64) ([]EventDTO, error) {
	var rows []Event
	if err := s.db.WithContext(ctx).
		Where("canvas_id = ? AND version > ?", canvasID, sinceVersion).
		Order("version ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]EventDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, EventDTO{
			ID:        r.ID,
			CanvasID:  r.CanvasID,
			ShapeID:   r.ShapeID,
			UserID:    r.UserID,
			Kind:      canvasevent.Kind(r.Kind),
			Payload:   map[string]any(r.Payload),
			Version:   r.Version,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// CreateSnapshot writes a point-in-time copy of the current projection,
// grounded on the teacher's CreateSnapshot (seq dedup, but no update
// cleanup here - the event log is the audit trail of record and is never
// pruned by this spec).
func (s *gormStore) CreateSnapshot(ctx context.Context, canvasID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var canvas Canvas
		if err := tx.First(&canvas, "id = ?", canvasID).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&CanvasSnapshot{}).
			Where("canvas_id = ? AND version = ?", canvasID, canvas.Version).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		var shapes []Shape
		if err := tx.Where("canvas_id = ? AND deleted_at IS NULL", canvasID).
			Order("z_index ASC").Find(&shapes).Error; err != nil {
			return err
		}

		serialised := make([]map[string]any, 0, len(shapes))
		for _, sh := range shapes {
			serialised = append(serialised, map[string]any{
				"id":         sh.ID,
				"type":       sh.Type,
				"zIndex":     sh.ZIndex,
				"properties": map[string]any(sh.Properties),
			})
		}

		return tx.Create(&CanvasSnapshot{
			CanvasID:  canvasID,
			Version:   canvas.Version,
			Shapes:    JSONMap{"shapes": serialised},
			CreatedAt: time.Now().UTC(),
		}).Error
	})
}

func (s *gormStore) NearestSnapshot(ctx context.Context, canvasID string) (*CanvasSnapshot, error) {
	var snap CanvasSnapshot
	err := s.db.WithContext(ctx).
		Where("canvas_id = ?", canvasID).
		Order("version DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// lockCanvas loads and row-locks the canvas under tx, the per-canvas
// discipline of §4.D/§5 that makes version allocation safe under
// concurrent writers while never contending across canvases.
func lockCanvas(tx *gorm.DB, canvasID string) (*Canvas, error) {
	var canvas Canvas
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&canvas, "id = ?", canvasID).Error
	if err != nil {
		return nil, fmt.Errorf("canvasstore: lock canvas %s: %w", canvasID, err)
	}
	return &canvas, nil
}

func (s *gormStore) findByLocalEventID(ctx context.Context, canvasID, localEventID string) (StoreEventResult, bool, error) {
	var row Event
	err := s.db.WithContext(ctx).
		Where("canvas_id = ? AND local_event_id = ?", canvasID, localEventID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StoreEventResult{}, false, nil
	}
	if err != nil {
		return StoreEventResult{}, false, err
	}
	return eventToResult(row), true, nil
}

func findByLocalEventIDTx(tx *gorm.DB, canvasID, localEventID string) (StoreEventResult, bool, error) {
	var row Event
	err := tx.Where("canvas_id = ? AND local_event_id = ?", canvasID, localEventID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StoreEventResult{}, false, nil
	}
	if err != nil {
		return StoreEventResult{}, false, err
	}
	return eventToResult(row), true, nil
}

func eventToResult(row Event) StoreEventResult {
	return StoreEventResult{
		EventID: row.ID,
		ShapeID: row.ShapeID,
		Kind:    canvasevent.Kind(row.Kind),
		Version: row.Version,
		Payload: canvasevent.Properties(row.Payload),
		Stored:  true,
	}
}

// applyOneEvent runs the projection + conflict handling for one event
// inside an already-open, already-locked transaction, mutates canvas's
// in-memory Version so a batch of events sees a consistent counter, and
// persists both the event row and the canvas's bumped version/updated_at.
func applyOneEvent(
	tx *gorm.DB,
	canvas *Canvas,
	userID string,
	kind canvasevent.Kind,
	shapeID *string,
	rawPayload map[string]any,
	localEventID string,
	now time.Time,
) (StoreEventResult, error) {
	canonical := canvasevent.Canonical(kind)
	storedProps := canvasevent.NormalizeProperties(rawPayload)
	hadConflict := false

	var causality canvasevent.CausalityFields
	if vc, ok := rawPayload["vectorClock"].(map[string]any); ok {
		causality.VectorClock = toUintMap(vc)
	}
	if pt, ok := rawPayload["propertyTimestamps"].(map[string]any); ok {
		causality.PropertyTimestamps = toInt64Map(pt)
	}

	if canonical == canvasevent.ShapeCreated && shapeID == nil {
		generated := uuid.NewString()
		shapeID = &generated
	}

	var shape *Shape
	if shapeID != nil {
		var existing Shape
		err := tx.Where("id = ? AND canvas_id = ?", *shapeID, canvas.ID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			shape = nil
		case err != nil:
			return StoreEventResult{}, err
		default:
			shape = &existing
		}
	}

	switch canonical {
	case canvasevent.ShapeEdited:
		if shape != nil {
			resolvedProps, conflictHappened := resolveEditConflict(shape, storedProps, causality, now)
			storedProps = resolvedProps
			hadConflict = conflictHappened
		}
	case canvasevent.ShapeMoved, canvasevent.DragEnd:
		pos, ok := canvasevent.NormalizePosition(rawPayload)
		if !ok && canonical == canvasevent.DragEnd {
			if endRaw, ok2 := rawPayload["endPosition"].(map[string]any); ok2 {
				pos, ok = canvasevent.NormalizePosition(map[string]any{"position": endRaw})
			}
		}
		if ok {
			diff := canvasevent.Properties{"x": pos.X, "y": pos.Y}
			if shape != nil {
				resolvedProps, conflictHappened := resolveEditConflict(shape, diff, causality, now)
				storedProps = resolvedProps
				hadConflict = conflictHappened
			} else {
				storedProps = diff
			}
		} else {
			storedProps = canvasevent.Properties{}
		}
	}

	shapeType, _ := rawPayload["type"].(string)
	zIndex := 0
	if z, ok := rawPayload["zIndex"].(float64); ok {
		zIndex = int(z)
	}

	if err := applyProjection(tx, projectionInput{
		canvasID:   canvas.ID,
		shapeID:    shapeID,
		existing:   shape,
		kind:       canonical,
		userID:     userID,
		diff:       storedProps,
		causality:  causality,
		shapeType:  shapeType,
		zIndex:     zIndex,
		now:        now,
	}); err != nil {
		return StoreEventResult{}, err
	}

	nextVersion := canvas.Version + 1
	eventID := uuid.NewString()

	payloadToStore := JSONMap{}
	for k, v := range storedProps {
		payloadToStore[k] = v
	}
	if canonical == canvasevent.ShapeCreated {
		if t, ok := rawPayload["type"].(string); ok {
			payloadToStore["type"] = t
		}
		if z, ok := rawPayload["zIndex"]; ok {
			payloadToStore["zIndex"] = z
		}
		payloadToStore["properties"] = map[string]any(storedProps)
	}

	var localIDPtr *string
	if localEventID != "" {
		localIDPtr = &localEventID
	}

	event := Event{
		ID:           eventID,
		CanvasID:     canvas.ID,
		ShapeID:      shapeID,
		UserID:       userID,
		Kind:         string(kind),
		Payload:      payloadToStore,
		Version:      nextVersion,
		LocalEventID: localIDPtr,
		CreatedAt:    now,
	}
	if err := tx.Create(&event).Error; err != nil {
		return StoreEventResult{}, err
	}

	canvas.Version = nextVersion
	canvas.UpdatedAt = now
	if err := tx.Model(&Canvas{}).Where("id = ?", canvas.ID).
		Updates(map[string]any{"version": nextVersion, "updated_at": now}).Error; err != nil {
		return StoreEventResult{}, err
	}

	return StoreEventResult{
		EventID:     eventID,
		ShapeID:     shapeID,
		Kind:        canonical,
		Version:     nextVersion,
		Payload:     storedProps,
		Stored:      true,
		HadConflict: hadConflict,
	}, nil
}

// resolveEditConflict implements §4.C/§4.D's server-side merge: when the
// incoming edit carries a vector clock, run the full causality-aware
// resolver (the Design Note's "plumb client-provided vector clocks into
// the server-side resolver" symmetric policy); otherwise fall back to
// the 1-second time-window heuristic, merging by property-timestamp with
// the incoming edit winning ties.
func resolveEditConflict(
	shape *Shape,
	diff canvasevent.Properties,
	causality canvasevent.CausalityFields,
	now time.Time,
) (canvasevent.Properties, bool) {
	localVC := vectorclock.Clock(toUintMap(map[string]any(shape.VectorClock)))
	localTS := toInt64MapFromJSON(shape.PropertyTimestamps)

	remoteTS := causality.PropertyTimestamps
	if remoteTS == nil {
		remoteTS = make(map[string]int64, len(diff))
		for k := range diff {
			remoteTS[k] = now.UnixMilli()
		}
	}

	withinWindow := now.Sub(shape.UpdatedAt) <= ConflictWindow

	hasVC := len(causality.VectorClock) > 0
	if !hasVC && !withinWindow {
		// No causal information and outside the heuristic window: a
		// normal, non-conflicting edit.
		return diff, false
	}

	remoteProps := canvasevent.MergeProperties(canvasevent.Properties(shape.Properties), diff)

	local := conflict.State{
		Properties:         canvasevent.Properties(shape.Properties),
		VectorClock:        localVC,
		PropertyTimestamps: localTS,
	}
	remote := conflict.State{
		Properties:         remoteProps,
		VectorClock:        vectorclock.Clock(causality.VectorClock),
		PropertyTimestamps: remoteTS,
	}
	if !hasVC {
		// No vector clock to compare: treated as concurrent with the
		// server's record, forcing the property-timestamp merge path.
		remote.VectorClock = localVC
	}

	result := conflict.Resolve(local, remote)

	switch result.Action {
	case conflict.KeepLocal:
		// Remote is stale: the stored diff becomes a no-op so the
		// projection's shallow-merge leaves the shape unchanged.
		return canvasevent.Properties{}, true
	case conflict.ApplyRemote:
		return diff, false
	default: // Merge
		touchedDiff := canvasevent.Properties{}
		for k := range diff {
			if v, ok := result.Properties[k]; ok {
				touchedDiff[k] = v
			}
		}
		return touchedDiff, true
	}
}

func toUintMap(m map[string]any) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for k, v := range m {
		switch n := v.(type) {
		case float64:
			out[k] = uint64(n)
		case int:
			out[k] = uint64(n)
		}
	}
	return out
}

func toInt64Map(m map[string]any) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		switch n := v.(type) {
		case float64:
			out[k] = int64(n)
		case int:
			out[k] = int64(n)
		case int64:
			out[k] = n
		}
	}
	return out
}

func toInt64MapFromJSON(m JSONMap) map[string]int64 {
	return toInt64Map(map[string]any(m))
}
