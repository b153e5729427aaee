package repositories

import (
	"context"

	"github.com/meetloop/backend/internal/models"
)

// RelationshipRepository defines data access for follow edges and friend requests.
//
// Write operations report ErrNotFound, ErrForbidden and ErrConflict so callers can
// tell a missing row from an actor that may not touch it from a row that moved on.
type RelationshipRepository interface {
	QueryEdges(ctx context.Context, viewerID string, targetIDs []string) ([]models.FollowEdge, error)
	QueryRequests(ctx context.Context, viewerID string, targetIDs []string) ([]models.FriendRequest, error)
	CreateRequest(ctx context.Context, inviterID, inviteeID string) (models.FriendRequest, error)
	UpdateRequestStatus(ctx context.Context, actorID, requestID string, status models.RequestStatus) error
	DeleteRequest(ctx context.Context, actorID, requestID string) error
	RemoveEdges(ctx context.Context, viewerID, targetID string) ([]models.FollowEdge, error)
	CreateEdge(ctx context.Context, followerID, followedID string) error
	DeleteEdge(ctx context.Context, followerID, followedID string) error
}
