// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/clone-finder/internal/database"
)

// MockStore is an in-memory implementation of database.Store
type MockStore struct {
	mu       sync.RWMutex
	faces    []database.Face // ordered by id
	entities map[string]database.Entity
	runs     []database.IngestRun
	nextID   int64

	// Call counters
	LookupCalls      int
	ApplyBatchCalls  int
	EntityLookups    int
	ScanEncodingRuns int

	// Error injection
	LookupError        error
	ApplyBatchError    error
	ScanError          error
	SummaryError       error
	StatsError         error
	EntityForFaceError map[int64]error // per-face failures
	SaveEntitiesError  error
	SaveIngestRunError error
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates a new empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		entities:           make(map[string]database.Entity),
		EntityForFaceError: make(map[int64]error),
		nextID:             1,
	}
}

// AddFace inserts a face directly, assigning the next id
func (m *MockStore) AddFace(face database.Face) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(face)
}

func (m *MockStore) addLocked(face database.Face) int64 {
	face.ID = m.nextID
	m.nextID++
	face.Encoding = slices.Clone(face.Encoding)
	m.faces = append(m.faces, face)
	return face.ID
}

// AddEntity inserts an entity directly
func (m *MockStore) AddEntity(e database.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.Key] = e
}

// Faces returns a copy of all stored faces
func (m *MockStore) Faces() []database.Face {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.faces)
}

// IngestRuns returns the recorded ingest runs
func (m *MockStore) IngestRuns() []database.IngestRun {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.runs)
}

func (m *MockStore) findLocked(id int64) int {
	i := sort.Search(len(m.faces), func(i int) bool { return m.faces[i].ID >= id })
	if i < len(m.faces) && m.faces[i].ID == id {
		return i
	}
	return -1
}

// ScanEncodings calls fn for every encoded face in id order
func (m *MockStore) ScanEncodings(ctx context.Context, fn database.EncodingScanFunc) error {
	m.mu.Lock()
	m.ScanEncodingRuns++
	m.mu.Unlock()
	if m.ScanError != nil {
		return m.ScanError
	}

	m.mu.RLock()
	faces := slices.Clone(m.faces)
	m.mu.RUnlock()

	for _, f := range faces {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Encoding == nil {
			continue
		}
		if err := fn(f.ID, f.Encoding); err != nil {
			return err
		}
	}
	return nil
}

// GetFace retrieves a face by id
func (m *MockStore) GetFace(ctx context.Context, id int64) (*database.Face, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.findLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("face %d: %w", id, database.ErrNotFound)
	}
	f := m.faces[i]
	return &f, nil
}

// LookupFace finds a face by natural key
func (m *MockStore) LookupFace(ctx context.Context, key database.FaceKey) (*database.Face, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LookupCalls++
	if m.LookupError != nil {
		return nil, m.LookupError
	}
	for _, f := range m.faces {
		if f.Key() == key {
			return &f, nil
		}
	}
	return nil, nil
}

// EntitySummaries groups faces by entity
func (m *MockStore) EntitySummaries(ctx context.Context) ([]database.EntitySummary, error) {
	if m.SummaryError != nil {
		return nil, m.SummaryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	byKey := make(map[string]*database.EntitySummary)
	var order []string
	for _, f := range m.faces {
		s, ok := byKey[f.EntityKey]
		if !ok {
			s = &database.EntitySummary{EntityKey: f.EntityKey}
			byKey[f.EntityKey] = s
			order = append(order, f.EntityKey)
		}
		s.Faces++
		if f.Encoding != nil {
			s.Encoded++
		}
	}
	out := make([]database.EntitySummary, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out, nil
}

// Stats returns corpus counters
func (m *MockStore) Stats(ctx context.Context) (database.FaceStats, error) {
	if m.StatsError != nil {
		return database.FaceStats{}, m.StatsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := database.FaceStats{Faces: int64(len(m.faces)), Entities: int64(len(m.entities))}
	for _, f := range m.faces {
		if f.Encoding != nil {
			stats.Encoded++
		}
		if f.HardFace {
			stats.HardFaces++
		}
		stats.MaxFaceID = max(stats.MaxFaceID, f.ID)
	}
	return stats, nil
}

// ApplyBatch inserts and updates faces atomically
func (m *MockStore) ApplyBatch(ctx context.Context, adds []database.Face, updates []database.FaceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApplyBatchCalls++
	if m.ApplyBatchError != nil {
		return fmt.Errorf("%w: %w", database.ErrBatchWrite, m.ApplyBatchError)
	}

	// Validate updates first so a failure leaves the store untouched.
	for _, u := range updates {
		i := m.findLocked(u.ID)
		if i < 0 || m.faces[i].IsTerminal() {
			return fmt.Errorf("%w: update face %d: face is missing or already terminal", database.ErrBatchWrite, u.ID)
		}
	}

	for _, f := range adds {
		m.addLocked(f)
	}
	for _, u := range updates {
		f := &m.faces[m.findLocked(u.ID)]
		f.Location = u.Location
		f.Landmarks = u.Landmarks
		f.Encoding = slices.Clone(u.Encoding)
		f.HardFace = u.HardFace
	}
	return nil
}

// GetEntity retrieves an entity by key
func (m *MockStore) GetEntity(ctx context.Context, key string) (*database.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[key]
	if !ok {
		return nil, fmt.Errorf("entity %q: %w", key, database.ErrNotFound)
	}
	return &e, nil
}

// EntityForFace resolves the entity owning a face
func (m *MockStore) EntityForFace(ctx context.Context, faceID int64) (*database.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EntityLookups++
	if err := m.EntityForFaceError[faceID]; err != nil {
		return nil, err
	}
	i := m.findLocked(faceID)
	if i < 0 {
		return nil, fmt.Errorf("face %d: %w", faceID, database.ErrNotFound)
	}
	e, ok := m.entities[m.faces[i].EntityKey]
	if !ok {
		return nil, fmt.Errorf("entity of face %d: %w", faceID, database.ErrNotFound)
	}
	return &e, nil
}

// SaveEntities inserts entities, ignoring existing keys
func (m *MockStore) SaveEntities(ctx context.Context, entities []database.Entity) (int, error) {
	if m.SaveEntitiesError != nil {
		return 0, m.SaveEntitiesError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range entities {
		if _, ok := m.entities[e.Key]; ok {
			continue
		}
		m.entities[e.Key] = e
		n++
	}
	return n, nil
}

// SaveIngestRun records a run
func (m *MockStore) SaveIngestRun(ctx context.Context, run *database.IngestRun) error {
	if m.SaveIngestRunError != nil {
		return m.SaveIngestRunError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	m.runs = append(m.runs, *run)
	return nil
}

// RecentIngestRuns returns the latest runs, newest first
func (m *MockStore) RecentIngestRuns(ctx context.Context, limit int) ([]database.IngestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.runs)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op
func (m *MockStore) Close() error { return nil }
