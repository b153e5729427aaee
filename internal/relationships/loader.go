package relationships

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/meetloop/backend/internal/models"
)

// Loader fetches authoritative relationships. The cache calls it on misses.
type Loader interface {
	LoadPair(ctx context.Context, viewerID, targetID string) (Relationship, error)
	LoadBatch(ctx context.Context, viewerID string, targetIDs []string) (map[string]Relationship, error)
}

// Forgetter is implemented by loaders that keep their own copy of relationships
// and must drop it when a pair changes.
type Forgetter interface {
	Forget(ctx context.Context, pairs ...PairKey) error
}

// StoreLoader resolves relationships from the store's edge and request rows.
type StoreLoader struct {
	store Store
}

// NewStoreLoader returns a loader backed by store.
func NewStoreLoader(store Store) *StoreLoader {
	return &StoreLoader{store: store}
}

// LoadPair resolves a single pair.
func (l *StoreLoader) LoadPair(ctx context.Context, viewerID, targetID string) (Relationship, error) {
	rels, err := l.LoadBatch(ctx, viewerID, []string{targetID})
	if err != nil {
		return none(), err
	}
	return rels[targetID], nil
}

// LoadBatch queries edges and requests concurrently and resolves every target.
func (l *StoreLoader) LoadBatch(ctx context.Context, viewerID string, targetIDs []string) (map[string]Relationship, error) {
	var (
		edges    []models.FollowEdge
		requests []models.FriendRequest
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		edges, err = l.store.QueryEdges(gctx, viewerID, targetIDs)
		if err != nil {
			return fmt.Errorf("query edges: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		requests, err = l.store.QueryRequests(gctx, viewerID, targetIDs)
		if err != nil {
			return fmt.Errorf("query requests: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return ResolveBatch(viewerID, targetIDs, edges, requests), nil
}
