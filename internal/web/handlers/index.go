package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/kozaktomas/clone-finder/internal/database"
)

// Rebuilder rebuilds the search index from the store.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*database.AnnIndexMetadata, error)
}

// IndexHandler handles index maintenance
type IndexHandler struct {
	rebuilder Rebuilder
	stats     *StatsHandler
	logger    *slog.Logger
	running   atomic.Bool
}

// NewIndexHandler creates a new index handler. stats may be nil.
func NewIndexHandler(rebuilder Rebuilder, stats *StatsHandler, logger *slog.Logger) *IndexHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexHandler{rebuilder: rebuilder, stats: stats, logger: logger}
}

// Rebuild rebuilds the index synchronously and returns its metadata.
func (h *IndexHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if !h.running.CompareAndSwap(false, true) {
		respondError(w, http.StatusConflict, "index rebuild already in progress")
		return
	}
	defer h.running.Store(false)

	meta, err := h.rebuilder.Rebuild(r.Context())
	if err != nil {
		h.logger.Error("index rebuild failed", "error", err)
		respondError(w, http.StatusInternalServerError, "index rebuild failed")
		return
	}
	if h.stats != nil {
		h.stats.InvalidateCache()
	}
	if meta == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": "on-disk backend has no index"})
		return
	}
	respondJSON(w, http.StatusOK, meta)
}
