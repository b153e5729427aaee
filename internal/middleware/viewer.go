package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meetloop/backend/internal/logging"
)

type viewerKey struct{}

// Authenticator resolves a bearer access token to a user id.
type Authenticator interface {
	Authenticate(accessToken string) (string, error)
}

// WithViewer stores the authenticated user id on the context.
func WithViewer(ctx context.Context, viewerID string) context.Context {
	return context.WithValue(ctx, viewerKey{}, viewerID)
}

// ViewerFromContext returns the authenticated user id, if any.
func ViewerFromContext(ctx context.Context) (string, bool) {
	viewerID, ok := ctx.Value(viewerKey{}).(string)
	return viewerID, ok && viewerID != ""
}

// RequireViewer rejects requests without a valid bearer token and records the
// viewer on the request context otherwise.
func RequireViewer(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := logging.FromContext(r.Context())

			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			viewerID, err := authn.Authenticate(strings.TrimSpace(token))
			if err != nil {
				logger.Warn("access token rejected", slog.Any("error", err))
				unauthorized(w, "invalid access token")
				return
			}

			ctx := WithViewer(r.Context(), viewerID)
			ctx = logging.WithLogger(ctx, logger.With(slog.String("viewer_id", viewerID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
