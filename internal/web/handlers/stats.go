package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/clone-finder/internal/database"
)

const statsCacheTTL = 30 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsStore provides corpus counters.
type StatsStore interface {
	Stats(ctx context.Context) (database.FaceStats, error)
	RecentIngestRuns(ctx context.Context, limit int) ([]database.IngestRun, error)
}

// IndexInfo reports the current index, nil when none is in use.
type IndexInfo interface {
	Index() *database.AnnIndexMetadata
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	store  StatsStore
	index  IndexInfo
	logger *slog.Logger
	cache  statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(store StatsStore, index IndexInfo, logger *slog.Logger) *StatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{store: store, index: index, logger: logger}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// IngestRunInfo is one recent loader pass.
type IngestRunInfo struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Added      int       `json:"added"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Status     string    `json:"status"`
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	TotalFaces    int64                      `json:"total_faces"`
	EncodedFaces  int64                      `json:"encoded_faces"`
	HardFaces     int64                      `json:"hard_faces"`
	TotalEntities int64                      `json:"total_entities"`
	Index         *database.AnnIndexMetadata `json:"index,omitempty"`
	IndexStale    bool                       `json:"index_stale"`
	RecentRuns    []IngestRunInfo            `json:"recent_runs"`
}

// Get returns corpus statistics
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	runs, err := h.store.RecentIngestRuns(r.Context(), 5)
	if err != nil {
		h.logger.Error("failed to get ingest runs", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	resp := &StatsResponse{
		TotalFaces:    stats.Faces,
		EncodedFaces:  stats.Encoded,
		HardFaces:     stats.HardFaces,
		TotalEntities: stats.Entities,
		RecentRuns:    make([]IngestRunInfo, 0, len(runs)),
	}
	if h.index != nil {
		if meta := h.index.Index(); meta != nil {
			resp.Index = meta
			resp.IndexStale = meta.IsStale(stats)
		}
	}
	for _, run := range runs {
		resp.RecentRuns = append(resp.RecentRuns, IngestRunInfo{
			ID:         run.ID.String(),
			Source:     run.Source,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			Added:      run.Added,
			Updated:    run.Updated,
			Skipped:    run.Skipped,
			Failed:     run.Failed,
			Status:     run.Status,
		})
	}

	h.cache.set(resp)
	respondJSON(w, http.StatusOK, resp)
}
