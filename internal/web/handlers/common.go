package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

const errInvalidRequestBody = "invalid request body"

var logSanitizer = strings.NewReplacer("\n", " ", "\r", " ")

// sanitizeForLog flattens client-supplied strings onto one log line.
func sanitizeForLog(s string) string {
	return logSanitizer.Replace(s)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write response", "status", status, "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// HealthResponse reports liveness and the active search backend.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
}

// Health returns the liveness handler. searcher may be nil.
func Health(searcher Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if searcher != nil {
			resp.Backend = searcher.Backend()
		}
		respondJSON(w, http.StatusOK, resp)
	}
}
