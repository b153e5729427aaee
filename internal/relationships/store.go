package relationships

import (
	"context"

	"github.com/meetloop/backend/internal/models"
)

// Store is the system of record the coordinator mutates and the loader reads.
// Implementations report repositories.ErrNotFound, ErrForbidden and ErrConflict.
type Store interface {
	QueryEdges(ctx context.Context, viewerID string, targetIDs []string) ([]models.FollowEdge, error)
	QueryRequests(ctx context.Context, viewerID string, targetIDs []string) ([]models.FriendRequest, error)
	CreateRequest(ctx context.Context, inviterID, inviteeID string) (models.FriendRequest, error)
	UpdateRequestStatus(ctx context.Context, actorID, requestID string, status models.RequestStatus) error
	DeleteRequest(ctx context.Context, actorID, requestID string) error
	RemoveEdges(ctx context.Context, viewerID, targetID string) ([]models.FollowEdge, error)
	CreateEdge(ctx context.Context, followerID, followedID string) error
	DeleteEdge(ctx context.Context, followerID, followedID string) error
}

// EventPublisher receives committed relationship changes.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Metrics observes cache and coordinator activity.
type Metrics interface {
	CacheLookup(hit bool)
	LoadCoalesced(kind string)
	BatchShard(size int, failed bool)
	Mutation(command Command, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) CacheLookup(bool)         {}
func (noopMetrics) LoadCoalesced(string)     {}
func (noopMetrics) BatchShard(int, bool)     {}
func (noopMetrics) Mutation(Command, string) {}
