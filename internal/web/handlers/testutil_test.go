package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/database/mock"
	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/kozaktomas/clone-finder/internal/logging"
	"github.com/kozaktomas/clone-finder/internal/matcher"
)

// testService creates an exact search service over a small corpus
func testService(t *testing.T) (*matcher.Service, *mock.MockStore) {
	t.Helper()
	store := mock.NewMockStore()
	store.AddEntity(database.Entity{Key: "m.02mjmr", Name: "Barack Obama"})
	store.AddEntity(database.Entity{Key: "m.06w2sn5", Name: "Justin Bieber"})
	store.AddFace(database.Face{ImageName: "o.jpg", EntityKey: "m.02mjmr", SearchRank: 1, Encoding: []float32{0.1, 0}})
	store.AddFace(database.Face{ImageName: "b.jpg", EntityKey: "m.06w2sn5", SearchRank: 1, Encoding: []float32{0.5, 0}})

	svc, err := matcher.NewService(context.Background(), store,
		matcher.ServiceConfig{Backend: matcher.BackendOnDisk}, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("failed to create search service: %v", err)
	}
	return svc, store
}

// stubDetector returns a fixed detection
type stubDetector struct {
	det *facedetect.Detection
	err error
}

func (s stubDetector) Detect(context.Context, []byte, facedetect.Mode) (*facedetect.Detection, error) {
	return s.det, s.err
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest creates an image upload request
func multipartRequest(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "query.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write(image) //nolint:errcheck
	for k, v := range fields {
		w.WriteField(k, v) //nolint:errcheck
	}
	w.Close() //nolint:errcheck

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
