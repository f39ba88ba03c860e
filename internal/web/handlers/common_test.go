package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		data     any
		wantBody string
	}{
		{"nil data", http.StatusOK, nil, ""},
		{"empty map", http.StatusCreated, map[string]string{}, "{}\n"},
		{"slice", http.StatusOK, []int{1, 2}, "[1,2]\n"},
		{"error status", http.StatusNotFound, map[string]string{"a": "b"}, "{\"a\":\"b\"}\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.status, tc.data)

			assertStatusCode(t, recorder, tc.status)
			assertContentType(t, recorder, "application/json")
			if recorder.Body.String() != tc.wantBody {
				t.Errorf("expected body %q, got %q", tc.wantBody, recorder.Body.String())
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "something went wrong")
}

func TestHealth(t *testing.T) {
	svc, _ := testService(t)

	tests := []struct {
		name        string
		searcher    Searcher
		wantBackend string
	}{
		{"with searcher", svc, "ondisk"},
		{"without searcher", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			Health(tt.searcher)(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			assertStatusCode(t, recorder, http.StatusOK)
			var body HealthResponse
			parseJSONResponse(t, recorder, &body)
			if body.Status != "ok" {
				t.Errorf("expected status 'ok', got '%s'", body.Status)
			}
			if body.Backend != tt.wantBackend {
				t.Errorf("expected backend '%s', got '%s'", tt.wantBackend, body.Backend)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != "a b c" {
		t.Errorf("expected 'a b c', got '%s'", got)
	}
}
