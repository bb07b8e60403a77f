package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitriver-live/internal/api"
	"bitriver-live/internal/observability/metrics"
)

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestNewRegistersHealthRoute(t *testing.T) {
	t.Parallel()

	srv, err := New(&api.Handler{}, Config{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestNewRejectsBadTrustedProxy(t *testing.T) {
	t.Parallel()

	_, err := New(&api.Handler{}, Config{RateLimit: RateLimitConfig{TrustedProxies: []string{"not-an-ip"}}})
	if err == nil {
		t.Fatal("expected error for invalid trusted proxy")
	}
}

func TestShouldAudit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodGet, "/v2/streams", false},
		{http.MethodPost, "/v2/streams", true},
		{http.MethodDelete, "/v2/bookmarks/abc", true},
		{http.MethodPost, "/healthz", false},
		{http.MethodHead, "/v2/snapshots", false},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := shouldAudit(req); got != tc.want {
			t.Errorf("shouldAudit(%s %s) = %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestRateLimitMiddlewareRejectsOverGlobalLimit(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 1, GlobalBurst: 1})
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := rateLimitMiddleware(rl, nil, nil, next)

	req := httptest.NewRequest(http.MethodGet, "/v2/streams", nil)

	first := httptest.NewRecorder()
	mw.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	mw.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", second.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(second.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["error"] != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED error code, got %v", payload["error"])
	}
}

func TestMetricsMiddlewareRecordsObservation(t *testing.T) {
	t.Parallel()

	recorder := metrics.New()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/v2/streams", nil)
	rec := httptest.NewRecorder()
	metricsMiddleware(recorder, next).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
}

func TestClientIPResolverPrefersForwardedWhenTrusted(t *testing.T) {
	t.Parallel()

	resolver, err := newClientIPResolver(RateLimitConfig{TrustForwardedHeaders: true})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v2/streams", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")

	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.9" || source != ipSourceXForwardedFor {
		t.Fatalf("expected forwarded ip 203.0.113.9, got ip=%s source=%s", ip, source)
	}
}

func TestClientIPResolverFallsBackToRemoteAddr(t *testing.T) {
	t.Parallel()

	resolver, err := newClientIPResolver(RateLimitConfig{})
	if err != nil {
		t.Fatalf("newClientIPResolver error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v2/streams", nil)
	req.RemoteAddr = "198.51.100.7:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "198.51.100.7" || source != ipSourceRemoteAddr {
		t.Fatalf("expected untrusted remote addr fallback, got ip=%s source=%s", ip, source)
	}
}

func TestStatusRecorderCapturesWrittenStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sr := newStatusRecorder(rec)
	sr.WriteHeader(http.StatusAccepted)

	if sr.status != http.StatusAccepted {
		t.Fatalf("expected recorded status 202, got %d", sr.status)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected underlying recorder status 202, got %d", rec.Code)
	}
}

func TestLoggingMiddlewareNilLoggerPassesThrough(t *testing.T) {
	t.Parallel()

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v2/streams", nil)
	rec := httptest.NewRecorder()
	loggingMiddleware(nil, nil, next).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected next handler to be invoked when logger is nil")
	}
}

func TestRequestIDMiddlewarePropagatesExistingHeader(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/v2/streams", nil)
	req.Header.Set("X-Request-Id", "fixed-request-id")
	rec := httptest.NewRecorder()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	requestIDMiddleware(nil, next).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "fixed-request-id" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestAllowRequestRecoversAfterBurst(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 1000, GlobalBurst: 1})
	if !rl.AllowRequest() {
		t.Fatal("expected first request to be allowed")
	}
	if rl.AllowRequest() {
		t.Skip("token bucket refilled before the next call; timing-sensitive, not a failure")
	}
	time.Sleep(5 * time.Millisecond)
	if !rl.AllowRequest() {
		t.Fatal("expected token bucket to refill after a short wait")
	}
}
