package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/meetloop/backend/internal/logging"
	"github.com/meetloop/backend/internal/middleware"
	"github.com/meetloop/backend/internal/relationships"
)

// RelationshipService is the relationship cache and coordinator as seen by HTTP.
type RelationshipService interface {
	Get(ctx context.Context, viewerID, targetID string) (relationships.Relationship, error)
	GetBatch(ctx context.Context, viewerID string, targetIDs []string) (map[string]relationships.Status, error)
	Execute(ctx context.Context, cmd relationships.Command, viewerID, targetID string) (relationships.Outcome, error)
}

// RelationshipHandler serves relationship lookups and commands for the
// authenticated viewer.
type RelationshipHandler struct {
	Relationships RelationshipService
	Limiter       RateLimiter
	Validate      *validator.Validate
}

type batchRequest struct {
	TargetIDs []string `json:"targetIds" validate:"required,min=1,max=1000,dive,required,uuid"`
}

type relationshipResponse struct {
	TargetID  string               `json:"targetId"`
	Status    relationships.Status `json:"status"`
	RequestID string               `json:"requestId,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type batchResponse struct {
	Statuses map[string]relationships.Status `json:"statuses"`
	Error    string                          `json:"error,omitempty"`
}

type commandResponse struct {
	Status    relationships.Status       `json:"status"`
	RequestID string                     `json:"requestId,omitempty"`
	Previous  relationships.Relationship `json:"previous"`
	Corrected bool                       `json:"corrected"`
}

type commandError struct {
	Error     string                  `json:"error"`
	Kind      relationships.ErrorKind `json:"kind"`
	Retryable bool                    `json:"retryable"`
	Status    relationships.Status    `json:"status"`
	RequestID string                  `json:"requestId,omitempty"`
}

// Get handles GET /api/v1/relationships/{targetID}. Lookup failures answer
// "none" with an error message rather than failing the request.
func (h RelationshipHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewerID, targetID, ok := h.pair(w, r)
	if !ok {
		return
	}

	rel, err := h.Relationships.Get(ctx, viewerID, targetID)
	resp := relationshipResponse{TargetID: targetID, Status: rel.Status, RequestID: rel.RequestID}
	if err != nil {
		resp.Error = "relationship temporarily unavailable"
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

// Batch handles POST /api/v1/relationships/batch.
func (h RelationshipHandler) Batch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	viewerID, ok := middleware.ViewerFromContext(ctx)
	if !ok {
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid relationship batch payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validator().Struct(req); err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "targetIds must be 1 to 1000 user ids"})
		return
	}

	statuses, err := h.Relationships.GetBatch(ctx, viewerID, req.TargetIDs)
	resp := batchResponse{Statuses: statuses}
	if err != nil {
		resp.Error = "some relationships are temporarily unavailable"
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

// Command handles POST /api/v1/relationships/{targetID}/{command}.
func (h RelationshipHandler) Command(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewerID, targetID, ok := h.pair(w, r)
	if !ok {
		return
	}

	cmd, err := relationships.ParseCommand(r.PathValue("command"))
	if err != nil {
		respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "unknown relationship command"})
		return
	}

	if !allowRequest(h.Limiter, r, "relationships") {
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many relationship changes, slow down"})
		return
	}

	outcome, err := h.Relationships.Execute(ctx, cmd, viewerID, targetID)
	if err != nil {
		kind := relationships.KindOf(err)
		respondJSON(ctx, w, statusForKind(kind), commandError{
			Error:     err.Error(),
			Kind:      kind,
			Retryable: kind.Retryable(),
			Status:    outcome.Relationship.Status,
			RequestID: outcome.Relationship.RequestID,
		})
		return
	}

	respondJSON(ctx, w, http.StatusOK, commandResponse{
		Status:    outcome.Relationship.Status,
		RequestID: outcome.Relationship.RequestID,
		Previous:  outcome.Previous,
		Corrected: outcome.Corrected,
	})
}

func (h RelationshipHandler) pair(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ctx := r.Context()
	viewerID, ok := middleware.ViewerFromContext(ctx)
	if !ok {
		respondJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return "", "", false
	}

	targetID := r.PathValue("targetID")
	if err := h.validator().Var(targetID, "required,uuid"); err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "target must be a user id"})
		return "", "", false
	}
	if targetID == viewerID {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "target must be another user"})
		return "", "", false
	}
	return viewerID, targetID, true
}

func (h RelationshipHandler) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return defaultValidator
}

var defaultValidator = validator.New(validator.WithRequiredStructEnabled())

func statusForKind(kind relationships.ErrorKind) int {
	switch kind {
	case relationships.KindPrecondition:
		return http.StatusConflict
	case relationships.KindTimeout:
		return http.StatusGatewayTimeout
	case relationships.KindUnauthorized:
		return http.StatusForbidden
	case relationships.KindNotFound:
		return http.StatusNotFound
	case relationships.KindTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
