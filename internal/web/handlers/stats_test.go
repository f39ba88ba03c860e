package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/logging"
)

type fakeIndex struct {
	meta *database.AnnIndexMetadata
}

func (f fakeIndex) Index() *database.AnnIndexMetadata { return f.meta }

func TestStatsHandler_Get_Success(t *testing.T) {
	_, store := testService(t)
	store.AddFace(database.Face{ImageName: "h.jpg", EntityKey: "m.02mjmr", SearchRank: 2, HardFace: true})
	if err := store.SaveIngestRun(context.Background(), &database.IngestRun{Source: "feed.tsv", Added: 3, Status: database.IngestStatusCompleted}); err != nil {
		t.Fatalf("SaveIngestRun() error = %v", err)
	}

	handler := NewStatsHandler(store, fakeIndex{meta: &database.AnnIndexMetadata{FaceCount: 1, MaxFaceID: 1}}, logging.Discard())
	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)

	if stats.TotalFaces != 3 || stats.EncodedFaces != 2 || stats.HardFaces != 1 || stats.TotalEntities != 2 {
		t.Errorf("unexpected counters: %+v", stats)
	}
	if !stats.IndexStale {
		t.Error("expected index to be reported stale")
	}
	if len(stats.RecentRuns) != 1 || stats.RecentRuns[0].Source != "feed.tsv" {
		t.Errorf("expected one recent run, got %+v", stats.RecentRuns)
	}
}

func TestStatsHandler_Get_Error(t *testing.T) {
	_, store := testService(t)
	store.StatsError = database.ErrConnection
	handler := NewStatsHandler(store, nil, logging.Discard())

	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "failed to get stats")
}

func TestStatsHandler_Get_Caching(t *testing.T) {
	_, store := testService(t)
	handler := NewStatsHandler(store, nil, logging.Discard())

	get := func() StatsResponse {
		recorder := httptest.NewRecorder()
		handler.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
		var stats StatsResponse
		parseJSONResponse(t, recorder, &stats)
		return stats
	}

	first := get()
	store.AddFace(database.Face{ImageName: "new.jpg", EntityKey: "m.02mjmr", SearchRank: 3})

	if cached := get(); cached.TotalFaces != first.TotalFaces {
		t.Errorf("expected cached total %d, got %d", first.TotalFaces, cached.TotalFaces)
	}

	handler.InvalidateCache()
	if fresh := get(); fresh.TotalFaces != first.TotalFaces+1 {
		t.Errorf("expected fresh total %d, got %d", first.TotalFaces+1, fresh.TotalFaces)
	}
}
