package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/meetloop/backend/internal/middleware"
)

// RateLimiter is the minimal interface required to guard sensitive endpoints.
type RateLimiter interface {
	Allow(key string) bool
}

// allowRequest keys the limiter by the authenticated viewer when there is one
// and by client address otherwise.
func allowRequest(limiter RateLimiter, r *http.Request, scope string) bool {
	if limiter == nil {
		return true
	}
	return limiter.Allow(rateLimitKey(r, scope))
}

func rateLimitKey(r *http.Request, scope string) string {
	key := "ip:" + clientIP(r)
	if viewerID, ok := middleware.ViewerFromContext(r.Context()); ok {
		key = "viewer:" + viewerID
	}
	if scope == "" {
		return key
	}
	return scope + ":" + key
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
