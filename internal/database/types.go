package database

import (
	"time"

	"github.com/google/uuid"
)

// BoundingBox is a face location in pixel coordinates of the source image.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() int { return b.Right - b.Left }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() int { return b.Bottom - b.Top }

// Point is a single landmark coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Landmarks maps a facial feature name (chin, left_eye, ...) to its points.
type Landmarks map[string][]Point

// Entity is a named identity grouping many face samples.
// Entities are written once and never updated.
type Entity struct {
	Key  string
	Name string
}

// Face is a single face sample of an entity.
type Face struct {
	ID         int64
	ImageName  string
	Location   *BoundingBox // nil when detection failed
	Landmarks  Landmarks    // optional
	Encoding   []float32    // nil unless detection succeeded and encoding was requested
	SearchRank int
	ImageURL   string
	HardFace   bool // detection failed; terminal
	EntityKey  string
}

// IsTerminal reports whether the face can no longer be revisited by the loader.
func (f *Face) IsTerminal() bool {
	return f.Encoding != nil || f.HardFace
}

// Key returns the natural key of the face sample.
func (f *Face) Key() FaceKey {
	return FaceKey{ImageName: f.ImageName, EntityKey: f.EntityKey, SearchRank: f.SearchRank}
}

// FaceKey identifies a face sample in a labeled feed.
type FaceKey struct {
	ImageName  string
	EntityKey  string
	SearchRank int
}

// FaceUpdate is the single permitted in-place transition of an unencoded face.
type FaceUpdate struct {
	ID        int64
	Location  *BoundingBox
	Landmarks Landmarks
	Encoding  []float32
	HardFace  bool
}

// EntitySummary aggregates the faces of one entity.
type EntitySummary struct {
	EntityKey string
	Faces     int
	Encoded   int
}

// FaceStats describes the encoded part of the corpus, used to detect stale index snapshots.
type FaceStats struct {
	Faces     int64
	Encoded   int64
	HardFaces int64
	Entities  int64
	MaxFaceID int64
}

// IngestRun is the audit record of one loader pass.
type IngestRun struct {
	ID         uuid.UUID
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Added      int
	Updated    int
	Skipped    int
	Failed     int
	Status     string
}

// Ingest run statuses.
const (
	IngestStatusCompleted = "completed"
	IngestStatusFailed    = "failed"
)
