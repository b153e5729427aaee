package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type staticAuthenticator map[string]string

func (a staticAuthenticator) Authenticate(token string) (string, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return "", errors.New("unknown token")
}

func TestRequireViewer(t *testing.T) {
	authn := staticAuthenticator{"good": "user-1"}
	var seen string
	handler := RequireViewer(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ViewerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
		viewer string
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", status: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer bad", status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer good", status: http.StatusNoContent, viewer: "user-1"},
		{name: "scheme is case insensitive", header: "bearer good", status: http.StatusNoContent, viewer: "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			if seen != tt.viewer {
				t.Fatalf("expected viewer %q, got %q", tt.viewer, seen)
			}
		})
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
	status []int
}

func (o *recordingObserver) Observe(_ string, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, route)
	o.status = append(o.status, status)
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	obs := &recordingObserver{}
	handler := Instrument(obs)(mux)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))

	if len(obs.routes) != 1 || obs.routes[0] != "GET /items/{id}" {
		t.Fatalf("expected route pattern, got %v", obs.routes)
	}
	if obs.status[0] != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", obs.status[0])
	}
}

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	limiter := NewKeyedRateLimiter(1, time.Minute, 2, time.Minute)

	if !limiter.Allow("viewer") || !limiter.Allow("viewer") {
		t.Fatal("expected burst of two to be allowed")
	}
	if limiter.Allow("viewer") {
		t.Fatal("expected third request to be limited")
	}
	if !limiter.Allow("other") {
		t.Fatal("expected independent key to be allowed")
	}
}

func TestRateLimiterForgetsIdleKeys(t *testing.T) {
	limiter := newKeyedRateLimiter(1, time.Minute, 1, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("viewer")
	now = now.Add(2 * time.Minute)
	limiter.Allow("other")

	limiter.mu.Lock()
	_, ok := limiter.buckets["viewer"]
	limiter.mu.Unlock()
	if ok {
		t.Fatal("expected idle key to be collected")
	}
}
