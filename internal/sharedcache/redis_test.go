package sharedcache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetloop/backend/internal/relationships"
)

type countingLoader struct {
	mu      sync.Mutex
	rels    map[string]relationships.Relationship
	batches [][]string
}

func (l *countingLoader) LoadPair(ctx context.Context, viewerID, targetID string) (relationships.Relationship, error) {
	rels, err := l.LoadBatch(ctx, viewerID, []string{targetID})
	return rels[targetID], err
}

func (l *countingLoader) LoadBatch(_ context.Context, _ string, targetIDs []string) (map[string]relationships.Relationship, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batches = append(l.batches, append([]string(nil), targetIDs...))
	out := make(map[string]relationships.Relationship, len(targetIDs))
	for _, id := range targetIDs {
		rel, ok := l.rels[id]
		if !ok {
			rel = relationships.Relationship{Status: relationships.StatusNone}
		}
		out[id] = rel
	}
	return out, nil
}

func (l *countingLoader) calls() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batches
}

func TestRedisLoaderFallsThroughWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	next := &countingLoader{rels: map[string]relationships.Relationship{
		"a": {Status: relationships.StatusFollowing},
	}}
	loader := NewRedisLoader(client, next, time.Minute)

	rels, err := loader.LoadBatch(context.Background(), "viewer", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, relationships.StatusFollowing, rels["a"].Status)
	assert.Equal(t, relationships.StatusNone, rels["b"].Status)
	assert.Equal(t, [][]string{{"a", "b"}}, next.calls())
}

func TestRedisLoaderReadThrough(t *testing.T) {
	addr := os.Getenv("MEETLOOP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEETLOOP_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client, err := Connect(ctx, addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	viewer := uuid.NewString()
	next := &countingLoader{rels: map[string]relationships.Relationship{
		"a": {Status: relationships.StatusRequestReceived, RequestID: "r1"},
		"b": {Status: relationships.StatusFriends},
	}}
	loader := NewRedisLoader(client, next, time.Minute)

	first, err := loader.LoadBatch(ctx, viewer, []string{"a", "b"})
	require.NoError(t, err)
	second, err := loader.LoadBatch(ctx, viewer, []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, first["a"], second["a"])
	assert.Equal(t, relationships.StatusNone, second["c"].Status)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, next.calls())

	require.NoError(t, loader.Forget(ctx, relationships.PairKey{Viewer: viewer, Target: "a"}))
	rel, err := loader.LoadPair(ctx, viewer, "a")
	require.NoError(t, err)
	assert.Equal(t, "r1", rel.RequestID)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}, {"a"}}, next.calls())
}
