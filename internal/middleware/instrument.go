package middleware

import (
	"net/http"
	"time"
)

// RequestObserver records finished requests.
type RequestObserver interface {
	Observe(method, route string, status int, elapsed time.Duration)
}

// Instrument reports every request to obs, labelled by the matched route
// pattern. It must wrap the ServeMux directly so the pattern is visible.
func Instrument(obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(wrapped, r)
			obs.Observe(r.Method, r.Pattern, wrapped.Status(), time.Since(start))
		})
	}
}
