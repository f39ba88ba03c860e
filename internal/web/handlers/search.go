package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/kozaktomas/clone-finder/internal/matcher"
)

const (
	maxUploadSize = 32 << 20
	maxK          = 1000
)

// Searcher answers enriched similarity queries.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, k int) ([]matcher.Match, error)
	Backend() string
}

// SearchHandler handles face search requests
type SearchHandler struct {
	searcher Searcher
	detector facedetect.Detector
	mode     facedetect.Mode
	defaultK int
	logger   *slog.Logger
}

// NewSearchHandler creates a new search handler. detector may be nil, in
// which case only embedding queries are accepted.
func NewSearchHandler(searcher Searcher, detector facedetect.Detector, mode facedetect.Mode, defaultK int, logger *slog.Logger) *SearchHandler {
	if defaultK <= 0 {
		defaultK = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchHandler{searcher: searcher, detector: detector, mode: mode, defaultK: defaultK, logger: logger}
}

// SearchRequest is the JSON form of a search.
type SearchRequest struct {
	Embedding []float32 `json:"embedding"`
	K         int       `json:"k"`
}

// LookupFailure describes a candidate that could not be enriched.
type LookupFailure struct {
	Rank   int    `json:"rank"`
	FaceID int64  `json:"face_id"`
	Error  string `json:"error"`
}

// SearchResponse lists matches ordered by distance.
type SearchResponse struct {
	Backend  string                `json:"backend"`
	K        int                   `json:"k"`
	Face     *database.BoundingBox `json:"face,omitempty"`
	Matches  []matcher.Match       `json:"matches"`
	Failures []LookupFailure       `json:"failures,omitempty"`
}

// Search accepts either a multipart upload (field "image", optional "k")
// or a JSON body {"embedding": [...], "k": n}.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var (
		embedding []float32
		k         int
		box       *database.BoundingBox
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if h.detector == nil {
			respondError(w, http.StatusNotImplemented, "image search requires a face detector")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			respondError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		file, hdr, err := r.FormFile("image")
		if err != nil {
			respondError(w, http.StatusBadRequest, "missing image")
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read image")
			return
		}
		h.logger.Debug("search upload", "filename", sanitizeForLog(hdr.Filename), "bytes", len(data))
		if s := r.FormValue("k"); s != "" {
			if k, err = strconv.Atoi(s); err != nil {
				respondError(w, http.StatusBadRequest, "invalid k")
				return
			}
		}

		det, err := h.detector.Detect(r.Context(), data, h.mode)
		if errors.Is(err, facedetect.ErrInvalidImage) {
			respondError(w, http.StatusBadRequest, "unreadable image")
			return
		}
		if err != nil {
			h.logger.Error("face detection failed", "error", err)
			respondError(w, http.StatusBadGateway, "face detection failed")
			return
		}
		if det == nil {
			respondError(w, http.StatusUnprocessableEntity, "no face found in image")
			return
		}
		embedding, box = det.Embedding, &det.Box
	} else {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
		if len(req.Embedding) == 0 {
			respondError(w, http.StatusBadRequest, "embedding is required")
			return
		}
		embedding, k = req.Embedding, req.K
	}

	if k == 0 {
		k = h.defaultK
	}
	k = min(k, maxK)

	matches, err := h.searcher.Search(r.Context(), embedding, k)
	failures := matcher.LookupErrors(err)
	switch {
	case errors.Is(err, database.ErrDimensionMismatch):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && len(failures) == 0:
		h.logger.Error("search failed", "error", err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	resp := SearchResponse{
		Backend: h.searcher.Backend(),
		K:       k,
		Face:    box,
		Matches: matches,
	}
	if resp.Matches == nil {
		resp.Matches = []matcher.Match{}
	}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, LookupFailure{Rank: f.Rank, FaceID: f.FaceID, Error: f.Err.Error()})
	}
	respondJSON(w, http.StatusOK, resp)
}
