package canvasstore

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONMap is a gorm-compatible column type for an arbitrary JSON object,
// used for Shape.Properties and Event.Payload. Grounded on the teacher's
// practice of storing semi-structured payloads as a JSON column (its
// Document/DocumentUpdate binary blobs), adapted here to a typed map
// since our payloads are JSON objects rather than opaque binary.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("canvasstore: JSONMap.Scan: unsupported source type")
	}
	if len(bytes) == 0 {
		*m = JSONMap{}
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(bytes, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Canvas is the persisted row backing spec.md §3's Canvas: a stable id, a
// human name, creation/update timestamps, and the per-canvas version
// counter (the max version of any event ever stored against it).
type Canvas struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string
	Version   uint64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Shape is the materialised projection row backing spec.md §3's Shape.
type Shape struct {
	ID         string  `gorm:"primaryKey;size:36"`
	CanvasID   string  `gorm:"index;not null;size:36"`
	Type       string  `gorm:"not null"`
	Properties JSONMap `gorm:"type:json"`
	ZIndex     int     `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time `gorm:"index"`

	// PropertyTimestamps records, per property key, the wall-clock time
	// the server last applied a write to it - the "server's recorded
	// per-property timestamps" of §4.C, used as the merge tie-breaker
	// when a remote edit carries no vector clock of its own.
	PropertyTimestamps JSONMap `gorm:"type:json"`

	// VectorClock is the server's accumulated view of the shape's causal
	// history: every applying user's edit counter merged in, so a later
	// edit lacking its own vector clock can still be compared against it.
	VectorClock JSONMap `gorm:"type:json"`
}

// Event is the append-only log row backing spec.md §3's Event.
type Event struct {
	ID           string  `gorm:"primaryKey;size:36"`
	CanvasID     string  `gorm:"uniqueIndex:idx_events_canvas_version;not null;size:36"`
	ShapeID      *string `gorm:"index;size:36"`
	UserID       string  `gorm:"not null"`
	Kind         string  `gorm:"column:event_type;not null"`
	Payload      JSONMap `gorm:"type:json"`
	Version      uint64  `gorm:"uniqueIndex:idx_events_canvas_version;not null"`
	LocalEventID *string `gorm:"index;size:64"`
	CreatedAt    time.Time
}

func (Event) TableName() string { return "events" }

// CanvasSnapshot is a point-in-time copy of the shape projection,
// written periodically by the compaction worker so a cold client can
// warm-start near its last known version instead of folding the entire
// log (SPEC_FULL.md §3 addition, grounded on the teacher's
// DocumentSnapshot).
type CanvasSnapshot struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	CanvasID  string `gorm:"index;not null;size:36"`
	Version   uint64 `gorm:"not null"`
	Shapes    JSONMap `gorm:"type:json"`
	CreatedAt time.Time
}
