package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/widgets/abc123", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	got := testutil.ToFloat64(recorder.httpRequestsTotal.WithLabelValues("GET", "/widgets/:id", "418"))
	if got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}
}

func TestHTTPMiddlewareFallsBackToDefault(t *testing.T) {
	handler := HTTPMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/jobs/123", nil)
	rr := httptest.NewRecorder()

	before := testutil.ToFloat64(Default().httpRequestsTotal.WithLabelValues("POST", "/jobs/:id", "201"))
	handler.ServeHTTP(rr, req)
	after := testutil.ToFloat64(Default().httpRequestsTotal.WithLabelValues("POST", "/jobs/:id", "201"))

	if after != before+1 {
		t.Fatalf("expected default recorder to gain one observation: before=%v after=%v", before, after)
	}
}
