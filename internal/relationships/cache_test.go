package relationships

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeLoader struct {
	mu         sync.Mutex
	rels       map[string]Relationship
	pairCalls  int
	batchSizes []int
	failIDs    map[string]bool
	err        error
	gate       chan struct{}
	entered    chan struct{}
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{rels: make(map[string]Relationship), failIDs: make(map[string]bool)}
}

func (l *fakeLoader) set(targetID string, rel Relationship) {
	l.mu.Lock()
	l.rels[targetID] = rel
	l.mu.Unlock()
}

func (l *fakeLoader) wait(ctx context.Context) error {
	l.mu.Lock()
	gate, entered := l.gate, l.entered
	l.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *fakeLoader) LoadPair(ctx context.Context, _ string, targetID string) (Relationship, error) {
	l.mu.Lock()
	l.pairCalls++
	l.mu.Unlock()

	if err := l.wait(ctx); err != nil {
		return Relationship{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return Relationship{}, l.err
	}
	return l.lookupLocked(targetID), nil
}

func (l *fakeLoader) LoadBatch(ctx context.Context, _ string, targetIDs []string) (map[string]Relationship, error) {
	l.mu.Lock()
	l.batchSizes = append(l.batchSizes, len(targetIDs))
	l.mu.Unlock()

	if err := l.wait(ctx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	out := make(map[string]Relationship, len(targetIDs))
	for _, id := range targetIDs {
		if l.failIDs[id] {
			return nil, fmt.Errorf("shard containing %s unavailable", id)
		}
		out[id] = l.lookupLocked(id)
	}
	return out, nil
}

func (l *fakeLoader) lookupLocked(id string) Relationship {
	if rel, ok := l.rels[id]; ok {
		return rel
	}
	return Relationship{Status: StatusNone}
}

func (l *fakeLoader) calls() (int, []int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pairCalls, append([]int(nil), l.batchSizes...)
}

func newTestCache(loader Loader, clock *fakeClock) *Cache {
	return NewCache(loader, CacheConfig{Now: clock.Now})
}

func TestCacheGetServesFreshEntries(t *testing.T) {
	clock := newFakeClock()
	loader := newFakeLoader()
	loader.set(target, Relationship{Status: StatusFollowing})
	cache := newTestCache(loader, clock)

	for range 3 {
		rel, err := cache.Get(context.Background(), viewer, target)
		require.NoError(t, err)
		assert.Equal(t, StatusFollowing, rel.Status)
	}
	pairCalls, _ := loader.calls()
	assert.Equal(t, 1, pairCalls)

	clock.Advance(DefaultFreshness)
	loader.set(target, Relationship{Status: StatusFriends})

	rel, err := cache.Get(context.Background(), viewer, target)
	require.NoError(t, err)
	assert.Equal(t, StatusFriends, rel.Status)
	pairCalls, _ = loader.calls()
	assert.Equal(t, 2, pairCalls)
}

func TestCacheGetCoalescesConcurrentMisses(t *testing.T) {
	loader := newFakeLoader()
	loader.gate = make(chan struct{})
	loader.entered = make(chan struct{}, 1)
	loader.set(target, Relationship{Status: StatusFollowedBy})
	cache := newTestCache(loader, newFakeClock())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Relationship, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := cache.Get(context.Background(), viewer, target)
			assert.NoError(t, err)
			results[i] = rel
		}()
	}

	<-loader.entered
	close(loader.gate)
	wg.Wait()

	pairCalls, _ := loader.calls()
	assert.Equal(t, 1, pairCalls)
	for _, rel := range results {
		assert.Equal(t, StatusFollowedBy, rel.Status)
	}
}

type countingMetrics struct {
	noopMetrics
	mu        sync.Mutex
	misses    int
	coalesced map[string]int
}

func (m *countingMetrics) CacheLookup(hit bool) {
	if hit {
		return
	}
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *countingMetrics) LoadCoalesced(kind string) {
	m.mu.Lock()
	if m.coalesced == nil {
		m.coalesced = make(map[string]int)
	}
	m.coalesced[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) snapshot() (int, map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.coalesced))
	for k, v := range m.coalesced {
		out[k] = v
	}
	return m.misses, out
}

func TestCacheGetBatchCoalescesSameSet(t *testing.T) {
	loader := newFakeLoader()
	loader.gate = make(chan struct{})
	loader.entered = make(chan struct{}, 1)
	loader.set("a", Relationship{Status: StatusFollowing})
	loader.set("c", Relationship{Status: StatusFriends})
	metrics := &countingMetrics{}
	cache := NewCache(loader, CacheConfig{Now: newFakeClock().Now, Metrics: metrics})

	var wg sync.WaitGroup
	results := make([]map[string]Status, 2)
	for i, ids := range [][]string{{"a", "b", "c"}, {"c", "a", "b", "a"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses, err := cache.GetBatch(context.Background(), viewer, ids)
			assert.NoError(t, err)
			results[i] = statuses
		}()
	}

	<-loader.entered
	// Both callers have missed on all three targets before the load is released.
	require.Eventually(t, func() bool {
		misses, _ := metrics.snapshot()
		return misses == 6
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	_, batchSizes := loader.calls()
	assert.Equal(t, []int{3}, batchSizes)
	// singleflight reports the shared result to every caller of the flight.
	_, coalesced := metrics.snapshot()
	assert.Equal(t, 2, coalesced["batch"])

	want := map[string]Status{"a": StatusFollowing, "b": StatusNone, "c": StatusFriends}
	assert.Equal(t, want, results[0])
	assert.Equal(t, want, results[1])
}

func TestCacheGetFailsOpen(t *testing.T) {
	loader := newFakeLoader()
	loader.err = errors.New("store offline")
	cache := newTestCache(loader, newFakeClock())

	rel, err := cache.Get(context.Background(), viewer, target)
	require.Error(t, err)
	assert.Equal(t, Relationship{Status: StatusNone}, rel)
	assert.Equal(t, 0, cache.Len())
}

func TestCacheLoadDoesNotOverwriteNewerWrite(t *testing.T) {
	loader := newFakeLoader()
	loader.gate = make(chan struct{})
	loader.entered = make(chan struct{}, 1)
	cache := newTestCache(loader, newFakeClock())

	done := make(chan Relationship)
	go func() {
		rel, _ := cache.Get(context.Background(), viewer, target)
		done <- rel
	}()

	<-loader.entered
	cache.Set(viewer, target, Relationship{Status: StatusRequestSent, RequestID: "r1"})
	close(loader.gate)

	want := Relationship{Status: StatusRequestSent, RequestID: "r1"}
	assert.Equal(t, want, <-done)
	got, ok := cache.Peek(viewer, target)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCacheCompareAndSwap(t *testing.T) {
	cache := newTestCache(newFakeLoader(), newFakeClock())

	v1 := cache.Set(viewer, target, Relationship{Status: StatusFollowing})
	v2 := cache.Set(viewer, target, Relationship{Status: StatusFriends})
	assert.Greater(t, v2, v1)

	_, ok := cache.CompareAndSwap(viewer, target, v1, Relationship{Status: StatusNone})
	assert.False(t, ok)
	rel, _ := cache.Peek(viewer, target)
	assert.Equal(t, StatusFriends, rel.Status)

	v3, ok := cache.CompareAndSwap(viewer, target, v2, Relationship{Status: StatusNone, RequestID: "stray"})
	assert.True(t, ok)
	assert.Greater(t, v3, v2)
	rel, _ = cache.Peek(viewer, target)
	assert.Equal(t, Relationship{Status: StatusNone}, rel)
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	clock := newFakeClock()
	loader := newFakeLoader()
	cache := newTestCache(loader, clock)

	_, err := cache.Get(context.Background(), viewer, target)
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, cache.Invalidate(context.Background(), PairKey{Viewer: viewer, Target: target}))
	clock.Advance(time.Second)
	loader.set(target, Relationship{Status: StatusRequestReceived, RequestID: "r9"})

	rel, err := cache.Get(context.Background(), viewer, target)
	require.NoError(t, err)
	assert.Equal(t, Relationship{Status: StatusRequestReceived, RequestID: "r9"}, rel)
	pairCalls, _ := loader.calls()
	assert.Equal(t, 2, pairCalls)
}

func TestCacheSweepsUnusedEntries(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache(newFakeLoader(), clock)

	cache.Set(viewer, "stale", Relationship{Status: StatusFollowing})
	clock.Advance(DefaultRetention + time.Second)
	cache.Set(viewer, "recent", Relationship{Status: StatusFollowing})

	_, err := cache.Get(context.Background(), viewer, "recent")
	require.NoError(t, err)

	_, ok := cache.Peek(viewer, "stale")
	assert.False(t, ok)
	_, ok = cache.Peek(viewer, "recent")
	assert.True(t, ok)
}

func TestCacheGetBatchShards(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(loader, newFakeClock())

	ids := make([]string, 150)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%03d", i)
	}
	loader.set("user-007", Relationship{Status: StatusFollowing})

	statuses, err := cache.GetBatch(context.Background(), viewer, ids)
	require.NoError(t, err)
	assert.Len(t, statuses, 150)
	assert.Equal(t, StatusFollowing, statuses["user-007"])
	assert.Equal(t, StatusNone, statuses["user-149"])

	_, sizes := loader.calls()
	assert.ElementsMatch(t, []int{100, 50}, sizes)
}

func TestCacheBatchAndSingleShareEntries(t *testing.T) {
	loader := newFakeLoader()
	loader.set("x", Relationship{Status: StatusFollowing})
	loader.set("y", Relationship{Status: StatusFollowedBy})
	cache := newTestCache(loader, newFakeClock())

	statuses, err := cache.GetBatch(context.Background(), viewer, []string{"y", "x", "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]Status{"x": StatusFollowing, "y": StatusFollowedBy}, statuses)

	rel, err := cache.Get(context.Background(), viewer, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusFollowing, rel.Status)

	_, err = cache.GetBatch(context.Background(), viewer, []string{"x", "y"})
	require.NoError(t, err)

	pairCalls, sizes := loader.calls()
	assert.Equal(t, 0, pairCalls)
	assert.Equal(t, []int{2}, sizes)
}

func TestCacheGetBatchAnswersOnlyMissingTargets(t *testing.T) {
	loader := newFakeLoader()
	cache := newTestCache(loader, newFakeClock())
	cache.Set(viewer, "known", Relationship{Status: StatusFriends})

	statuses, err := cache.GetBatch(context.Background(), viewer, []string{"known", "new"})
	require.NoError(t, err)
	assert.Equal(t, StatusFriends, statuses["known"])
	assert.Equal(t, StatusNone, statuses["new"])

	_, sizes := loader.calls()
	assert.Equal(t, []int{1}, sizes)
}

func TestCacheGetBatchFailsOpenPerShard(t *testing.T) {
	loader := newFakeLoader()
	loader.set("user-120", Relationship{Status: StatusFollowing})
	loader.failIDs["user-005"] = true
	cache := newTestCache(loader, newFakeClock())

	ids := make([]string, 130)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%03d", i)
	}

	statuses, err := cache.GetBatch(context.Background(), viewer, ids)
	require.Error(t, err)
	assert.Len(t, statuses, 130)
	assert.Equal(t, StatusNone, statuses["user-005"])
	assert.Equal(t, StatusFollowing, statuses["user-120"])

	_, ok := cache.Peek(viewer, "user-005")
	assert.False(t, ok, "failed shard must not be cached")
	_, ok = cache.Peek(viewer, "user-120")
	assert.True(t, ok)
}

// sharedCopyLoader keeps a read-through copy in front of next, the way the
// Redis loader does, and lets a test plant a stale copy.
type sharedCopyLoader struct {
	next *fakeLoader

	mu     sync.Mutex
	copies map[string]Relationship
}

func newSharedCopyLoader(next *fakeLoader) *sharedCopyLoader {
	return &sharedCopyLoader{next: next, copies: make(map[string]Relationship)}
}

func (l *sharedCopyLoader) plant(targetID string, rel Relationship) {
	l.mu.Lock()
	l.copies[targetID] = rel
	l.mu.Unlock()
}

func (l *sharedCopyLoader) LoadPair(ctx context.Context, viewerID, targetID string) (Relationship, error) {
	l.mu.Lock()
	rel, ok := l.copies[targetID]
	l.mu.Unlock()
	if ok {
		return rel, nil
	}
	rel, err := l.next.LoadPair(ctx, viewerID, targetID)
	if err != nil {
		return rel, err
	}
	l.plant(targetID, rel)
	return rel, nil
}

func (l *sharedCopyLoader) LoadBatch(ctx context.Context, viewerID string, targetIDs []string) (map[string]Relationship, error) {
	out := make(map[string]Relationship, len(targetIDs))
	for _, id := range targetIDs {
		rel, err := l.LoadPair(ctx, viewerID, id)
		if err != nil {
			return nil, err
		}
		out[id] = rel
	}
	return out, nil
}

func (l *sharedCopyLoader) Forget(_ context.Context, pairs ...PairKey) error {
	l.mu.Lock()
	for _, pair := range pairs {
		delete(l.copies, pair.Target)
	}
	l.mu.Unlock()
	return nil
}

func TestCacheTouchedPairSkipsStaleSharedCopy(t *testing.T) {
	store := newFakeLoader()
	store.set(target, Relationship{Status: StatusFollowing})
	shared := newSharedCopyLoader(store)
	cache := newTestCache(shared, newFakeClock())
	ctx := context.Background()

	rel, err := cache.Get(ctx, viewer, target)
	require.NoError(t, err)
	require.Equal(t, StatusFollowing, rel.Status)

	store.set(target, Relationship{Status: StatusFriends})
	require.NoError(t, cache.Invalidate(ctx, PairKey{Viewer: viewer, Target: target}))
	// A read that overlapped the commit writes its old answer back.
	shared.plant(target, Relationship{Status: StatusFollowing})

	rel, err = cache.Get(ctx, viewer, target)
	require.NoError(t, err)
	assert.Equal(t, StatusFriends, rel.Status)
}

func TestCacheTouchedBatchSkipsStaleSharedCopy(t *testing.T) {
	store := newFakeLoader()
	store.set("a", Relationship{Status: StatusFollowing})
	shared := newSharedCopyLoader(store)
	cache := newTestCache(shared, newFakeClock())
	ctx := context.Background()

	_, err := cache.GetBatch(ctx, viewer, []string{"a", "b"})
	require.NoError(t, err)

	store.set("a", Relationship{Status: StatusNone})
	require.NoError(t, cache.Invalidate(ctx, PairKey{Viewer: viewer, Target: "a"}))
	shared.plant("a", Relationship{Status: StatusFollowing})

	statuses, err := cache.GetBatch(ctx, viewer, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]Status{"a": StatusNone, "b": StatusNone}, statuses)
}
