package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meetloop/backend/internal/models"
)

type edgeKey struct {
	follower string
	followed string
}

// MemoryRelationshipStore implements RelationshipRepository in memory for tests
// and local development. It applies the same rules as the PostgreSQL store.
type MemoryRelationshipStore struct {
	mu       sync.RWMutex
	edges    map[edgeKey]models.FollowEdge
	requests map[string]models.FriendRequest
	now      func() time.Time
}

// NewMemoryRelationshipStore returns an empty in-memory relationship store.
func NewMemoryRelationshipStore() *MemoryRelationshipStore {
	return &MemoryRelationshipStore{
		edges:    make(map[edgeKey]models.FollowEdge),
		requests: make(map[string]models.FriendRequest),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// QueryEdges returns follow edges in either direction between the viewer and any target.
func (s *MemoryRelationshipStore) QueryEdges(ctx context.Context, viewerID string, targetIDs []string) ([]models.FollowEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var edges []models.FollowEdge
	for _, target := range targetIDs {
		if edge, ok := s.edges[edgeKey{viewerID, target}]; ok {
			edges = append(edges, edge)
		}
		if edge, ok := s.edges[edgeKey{target, viewerID}]; ok {
			edges = append(edges, edge)
		}
	}
	return edges, nil
}

// QueryRequests returns open friend requests between the viewer and any target.
func (s *MemoryRelationshipStore) QueryRequests(ctx context.Context, viewerID string, targetIDs []string) ([]models.FriendRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targets := make(map[string]struct{}, len(targetIDs))
	for _, id := range targetIDs {
		targets[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.FriendRequest
	for _, req := range s.requests {
		if req.Status != models.RequestPending && req.Status != models.RequestAccepted {
			continue
		}
		other := ""
		switch viewerID {
		case req.InviterID:
			other = req.InviteeID
		case req.InviteeID:
			other = req.InviterID
		default:
			continue
		}
		if _, ok := targets[other]; ok {
			out = append(out, req)
		}
	}
	return out, nil
}

// CreateRequest opens a request, returning an existing open one or auto-matching
// a reciprocal pending request.
func (s *MemoryRelationshipStore) CreateRequest(ctx context.Context, inviterID, inviteeID string) (models.FriendRequest, error) {
	if err := ctx.Err(); err != nil {
		return models.FriendRequest{}, err
	}
	if inviterID == inviteeID {
		return models.FriendRequest{}, ErrConflict
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.openRequestLocked(inviterID, inviteeID); ok {
		if existing.Status == models.RequestAccepted || existing.InviterID == inviterID {
			return existing, nil
		}
		now := s.now()
		existing.Status = models.RequestAccepted
		existing.RespondedAt = &now
		s.requests[existing.ID] = existing
		return existing, nil
	}

	req := models.FriendRequest{
		ID:        uuid.NewString(),
		InviterID: inviterID,
		InviteeID: inviteeID,
		Status:    models.RequestPending,
		CreatedAt: s.now(),
	}
	s.requests[req.ID] = req
	return req, nil
}

// UpdateRequestStatus moves a pending request to a terminal status.
func (s *MemoryRelationshipStore) UpdateRequestStatus(ctx context.Context, actorID, requestID string, status models.RequestStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if status == models.RequestPending || !status.Valid() {
		return fmt.Errorf("update friend request: invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if err := authorizeTransition(current, actorID, status); err != nil {
		return err
	}

	now := s.now()
	current.Status = status
	current.RespondedAt = &now
	s.requests[requestID] = current
	return nil
}

// DeleteRequest removes a pending request on behalf of its inviter.
func (s *MemoryRelationshipStore) DeleteRequest(ctx context.Context, actorID, requestID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if err := authorizeTransition(current, actorID, models.RequestCancelled); err != nil {
		return err
	}

	delete(s.requests, requestID)
	return nil
}

// RemoveEdges deletes accepted requests between the pair and the viewer's follow
// edge, returning the edges that survive.
func (s *MemoryRelationshipStore) RemoveEdges(ctx context.Context, viewerID, targetID string) ([]models.FollowEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for id, req := range s.requests {
		if req.Status == models.RequestAccepted && req.Involves(viewerID, targetID) {
			delete(s.requests, id)
			removed = true
		}
	}
	if _, ok := s.edges[edgeKey{viewerID, targetID}]; ok {
		delete(s.edges, edgeKey{viewerID, targetID})
		removed = true
	}
	if !removed {
		return nil, ErrConflict
	}

	var remaining []models.FollowEdge
	if edge, ok := s.edges[edgeKey{targetID, viewerID}]; ok {
		remaining = append(remaining, edge)
	}
	return remaining, nil
}

// CreateEdge records a follow edge.
func (s *MemoryRelationshipStore) CreateEdge(ctx context.Context, followerID, followedID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if followerID == followedID {
		return ErrConflict
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := edgeKey{followerID, followedID}
	if _, ok := s.edges[key]; !ok {
		s.edges[key] = models.FollowEdge{FollowerID: followerID, FollowedID: followedID, CreatedAt: s.now()}
	}
	return nil
}

// DeleteEdge removes a follow edge if present.
func (s *MemoryRelationshipStore) DeleteEdge(ctx context.Context, followerID, followedID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.edges, edgeKey{followerID, followedID})
	s.mu.Unlock()
	return nil
}

// Request returns a stored request by id. Useful for tests.
func (s *MemoryRelationshipStore) Request(id string) (models.FriendRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	return req, ok
}

// PendingBetween counts pending requests between a and b in either direction.
func (s *MemoryRelationshipStore) PendingBetween(a, b string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, req := range s.requests {
		if req.Status == models.RequestPending && req.Involves(a, b) {
			count++
		}
	}
	return count
}

func (s *MemoryRelationshipStore) openRequestLocked(a, b string) (models.FriendRequest, bool) {
	for _, req := range s.requests {
		if (req.Status == models.RequestPending || req.Status == models.RequestAccepted) && req.Involves(a, b) {
			return req, true
		}
	}
	return models.FriendRequest{}, false
}

var _ RelationshipRepository = (*MemoryRelationshipStore)(nil)
