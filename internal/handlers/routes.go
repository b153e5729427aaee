package handlers

import (
	"net/http"

	"github.com/meetloop/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.HealthChecks}
	auth := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, Limiter: deps.AuthLimiter}
	rels := RelationshipHandler{Relationships: deps.Relationships, Limiter: deps.MutationLimiter}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/auth/login", auth.Login)
	mux.HandleFunc("/api/v1/auth/signup", auth.SignUp)
	mux.HandleFunc("/api/v1/auth/refresh", auth.Refresh)

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	if deps.Relationships == nil || deps.Authenticator == nil {
		return
	}
	requireViewer := middleware.RequireViewer(deps.Authenticator)
	mux.Handle("GET /api/v1/relationships/{targetID}", requireViewer(http.HandlerFunc(rels.Get)))
	mux.Handle("POST /api/v1/relationships/batch", requireViewer(http.HandlerFunc(rels.Batch)))
	mux.Handle("POST /api/v1/relationships/{targetID}/{command}", requireViewer(http.HandlerFunc(rels.Command)))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users           UserStore
	Sessions        SessionManager
	Authenticator   middleware.Authenticator
	Relationships   RelationshipService
	AuthLimiter     RateLimiter
	MutationLimiter RateLimiter
	HealthChecks    []HealthChecker
	Metrics         http.Handler
}
