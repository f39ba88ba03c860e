package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/logging"
)

type fakeRebuilder struct {
	meta  *database.AnnIndexMetadata
	err   error
	calls int
}

func (f *fakeRebuilder) Rebuild(context.Context) (*database.AnnIndexMetadata, error) {
	f.calls++
	return f.meta, f.err
}

func TestIndexHandler_Rebuild(t *testing.T) {
	_, store := testService(t)
	stats := NewStatsHandler(store, nil, logging.Discard())
	stats.cache.set(&StatsResponse{TotalFaces: 999})

	rebuilder := &fakeRebuilder{meta: &database.AnnIndexMetadata{FaceCount: 2, Dim: 2, Metric: database.MetricEuclidean}}
	handler := NewIndexHandler(rebuilder, stats, logging.Discard())

	recorder := httptest.NewRecorder()
	handler.Rebuild(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var meta database.AnnIndexMetadata
	parseJSONResponse(t, recorder, &meta)
	if meta.FaceCount != 2 || meta.Dim != 2 {
		t.Errorf("unexpected metadata: %+v", meta)
	}
	if _, ok := stats.cache.get(); ok {
		t.Error("expected stats cache to be invalidated")
	}
}

func TestIndexHandler_Rebuild_Failure(t *testing.T) {
	handler := NewIndexHandler(&fakeRebuilder{err: errors.New("boom")}, nil, logging.Discard())

	recorder := httptest.NewRecorder()
	handler.Rebuild(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "index rebuild failed")
}

func TestIndexHandler_Rebuild_OnDisk(t *testing.T) {
	handler := NewIndexHandler(&fakeRebuilder{}, nil, logging.Discard())

	recorder := httptest.NewRecorder()
	handler.Rebuild(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var body map[string]string
	parseJSONResponse(t, recorder, &body)
	if body["status"] != "skipped" {
		t.Errorf("expected status skipped, got %v", body)
	}
}

func TestIndexHandler_Rebuild_Conflict(t *testing.T) {
	handler := NewIndexHandler(&fakeRebuilder{}, nil, logging.Discard())
	handler.running.Store(true)

	recorder := httptest.NewRecorder()
	handler.Rebuild(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/index/rebuild", nil))

	assertStatusCode(t, recorder, http.StatusConflict)
}
