package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/kozaktomas/clone-finder/internal/logging"
)

func TestSearchHandler_Embedding(t *testing.T) {
	svc, _ := testService(t)
	handler := NewSearchHandler(svc, nil, facedetect.ModeHOG, 10, logging.Discard())

	req := jsonRequest(t, http.MethodPost, "/api/v1/search", SearchRequest{Embedding: []float32{0, 0}, K: 2})
	recorder := httptest.NewRecorder()
	handler.Search(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var resp SearchResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Backend != "ondisk" || resp.K != 2 {
		t.Errorf("expected backend ondisk and k=2, got %s k=%d", resp.Backend, resp.K)
	}
	if len(resp.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(resp.Matches))
	}
	if resp.Matches[0].EntityName != "Barack Obama" || resp.Matches[0].Rank != 1 {
		t.Errorf("expected Barack Obama at rank 1, got %+v", resp.Matches[0])
	}
	if resp.Matches[1].EntityKey != "m.06w2sn5" {
		t.Errorf("expected m.06w2sn5 second, got %s", resp.Matches[1].EntityKey)
	}
}

func TestSearchHandler_DefaultK(t *testing.T) {
	svc, _ := testService(t)
	handler := NewSearchHandler(svc, nil, facedetect.ModeHOG, 1, logging.Discard())

	recorder := httptest.NewRecorder()
	handler.Search(recorder, jsonRequest(t, http.MethodPost, "/api/v1/search", SearchRequest{Embedding: []float32{0, 0}}))

	var resp SearchResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.K != 1 || len(resp.Matches) != 1 {
		t.Errorf("expected default k=1 with one match, got k=%d, %d matches", resp.K, len(resp.Matches))
	}
}

func TestSearchHandler_Image(t *testing.T) {
	svc, _ := testService(t)
	det := stubDetector{det: &facedetect.Detection{
		Box:       database.BoundingBox{Top: 1, Right: 9, Bottom: 9, Left: 1},
		Embedding: []float32{0.5, 0},
	}}
	handler := NewSearchHandler(svc, det, facedetect.ModeHOG, 10, logging.Discard())

	recorder := httptest.NewRecorder()
	handler.Search(recorder, multipartRequest(t, "/api/v1/search", []byte("jpeg"), map[string]string{"k": "1"}))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp SearchResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Matches) != 1 || resp.Matches[0].EntityName != "Justin Bieber" {
		t.Errorf("expected Justin Bieber, got %+v", resp.Matches)
	}
	if resp.Face == nil || resp.Face.Right != 9 {
		t.Errorf("expected detected face box, got %+v", resp.Face)
	}
}

func TestSearchHandler_ImageErrors(t *testing.T) {
	svc, _ := testService(t)

	tests := []struct {
		name     string
		detector facedetect.Detector
		fields   map[string]string
		status   int
		message  string
	}{
		{"no detector", nil, nil, http.StatusNotImplemented, "image search requires a face detector"},
		{"no face", stubDetector{}, nil, http.StatusUnprocessableEntity, "no face found in image"},
		{"detector down", stubDetector{err: errors.New("refused")}, nil, http.StatusBadGateway, "face detection failed"},
		{"unreadable image", stubDetector{err: fmt.Errorf("%w: unknown format", facedetect.ErrInvalidImage)}, nil, http.StatusBadRequest, "unreadable image"},
		{"bad k", stubDetector{}, map[string]string{"k": "many"}, http.StatusBadRequest, "invalid k"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewSearchHandler(svc, tc.detector, facedetect.ModeHOG, 10, logging.Discard())
			recorder := httptest.NewRecorder()
			handler.Search(recorder, multipartRequest(t, "/api/v1/search", []byte("jpeg"), tc.fields))

			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.message)
		})
	}
}

func TestSearchHandler_BadRequests(t *testing.T) {
	svc, _ := testService(t)
	handler := NewSearchHandler(svc, nil, facedetect.ModeHOG, 10, logging.Discard())

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader("{"))
		recorder := httptest.NewRecorder()
		handler.Search(recorder, req)
		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, errInvalidRequestBody)
	})

	t.Run("missing embedding", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.Search(recorder, jsonRequest(t, http.MethodPost, "/api/v1/search", SearchRequest{K: 3}))
		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, "embedding is required")
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		recorder := httptest.NewRecorder()
		handler.Search(recorder, jsonRequest(t, http.MethodPost, "/api/v1/search", SearchRequest{Embedding: []float32{1, 2, 3}}))
		assertStatusCode(t, recorder, http.StatusBadRequest)
	})
}

func TestSearchHandler_PartialLookupFailure(t *testing.T) {
	svc, store := testService(t)
	store.EntityForFaceError[1] = errors.New("timeout")
	handler := NewSearchHandler(svc, nil, facedetect.ModeHOG, 10, logging.Discard())

	recorder := httptest.NewRecorder()
	handler.Search(recorder, jsonRequest(t, http.MethodPost, "/api/v1/search", SearchRequest{Embedding: []float32{0, 0}, K: 2}))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp SearchResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Matches) != 1 || resp.Matches[0].Rank != 2 {
		t.Errorf("expected only the rank 2 match, got %+v", resp.Matches)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].FaceID != 1 || resp.Failures[0].Rank != 1 {
		t.Errorf("expected one failure for face 1 at rank 1, got %+v", resp.Failures)
	}
}
