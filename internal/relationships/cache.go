package relationships

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meetloop/backend/internal/logging"
)

const (
	DefaultFreshness   = 30 * time.Second
	DefaultRetention   = 5 * time.Minute
	DefaultBatchSize   = 100
	DefaultReadTimeout = 8 * time.Second

	shardConcurrency = 4
)

// CacheConfig tunes a Cache. Zero values fall back to the defaults.
type CacheConfig struct {
	Freshness   time.Duration
	Retention   time.Duration
	BatchSize   int
	ReadTimeout time.Duration
	Metrics     Metrics
	Now         func() time.Time
}

type entry struct {
	rel       Relationship
	fetchedAt time.Time
	lastUsed  time.Time
	version   uint64
}

// Cache holds the viewer's resolved relationships keyed per pair. Single and
// batch lookups share the same entries. Concurrent misses for the same pair or
// the same batch are served by one loader call.
type Cache struct {
	loader      Loader
	freshness   time.Duration
	retention   time.Duration
	batchSize   int
	readTimeout time.Duration
	metrics     Metrics
	now         func() time.Time

	mu        sync.Mutex
	entries   map[PairKey]entry
	touched   map[PairKey]time.Time
	version   uint64
	lastSweep time.Time

	pairs   singleflight.Group
	batches singleflight.Group
}

// NewCache constructs a cache in front of loader.
func NewCache(loader Loader, cfg CacheConfig) *Cache {
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Cache{
		loader:      loader,
		freshness:   cfg.Freshness,
		retention:   cfg.Retention,
		batchSize:   cfg.BatchSize,
		readTimeout: cfg.ReadTimeout,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		entries:     make(map[PairKey]entry),
		touched:     make(map[PairKey]time.Time),
		lastSweep:   cfg.Now(),
	}
}

// Get returns the viewer's relationship with target. On a load failure it
// returns none together with the error; nothing is cached in that case.
func (c *Cache) Get(ctx context.Context, viewerID, targetID string) (Relationship, error) {
	key := PairKey{Viewer: viewerID, Target: targetID}
	if rel, ok := c.lookup(key); ok {
		c.metrics.CacheLookup(true)
		return rel, nil
	}
	c.metrics.CacheLookup(false)

	ch := c.pairs.DoChan(key.String(), func() (any, error) {
		return c.loadPair(ctx, key)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.LoadCoalesced("pair")
		}
		if res.Err != nil {
			logging.FromContext(ctx).Warn("relationship lookup failed",
				slog.String("targetId", targetID), slog.Any("error", res.Err))
			return none(), fmt.Errorf("load relationship: %w", res.Err)
		}
		return res.Val.(Relationship), nil
	case <-ctx.Done():
		return none(), ctx.Err()
	}
}

// GetBatch returns the status of every distinct target. Targets that are fresh
// in the cache are answered locally; the rest are loaded in shards of at most
// the configured batch size. A failed shard resolves its targets to none and
// its error is joined into the returned error.
func (c *Cache) GetBatch(ctx context.Context, viewerID string, targetIDs []string) (map[string]Status, error) {
	_, targets := NewBatchKey(viewerID, targetIDs)
	out := make(map[string]Status, len(targets))

	var missing []string
	for _, id := range targets {
		if rel, ok := c.lookup(PairKey{Viewer: viewerID, Target: id}); ok {
			c.metrics.CacheLookup(true)
			out[id] = rel.Status
			continue
		}
		c.metrics.CacheLookup(false)
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	shards := chunk(missing, c.batchSize)
	results := make([]map[string]Relationship, len(shards))
	errs := make([]error, len(shards))

	var g errgroup.Group
	g.SetLimit(shardConcurrency)
	for i, shard := range shards {
		g.Go(func() error {
			results[i], errs[i] = c.loadShard(ctx, viewerID, shard)
			return nil
		})
	}
	_ = g.Wait()

	for i, shard := range shards {
		c.metrics.BatchShard(len(shard), errs[i] != nil)
		for _, id := range shard {
			if errs[i] != nil {
				out[id] = StatusNone
				continue
			}
			out[id] = results[i][id].Status
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		logging.FromContext(ctx).Warn("relationship batch partially failed",
			slog.Int("targets", len(targets)), slog.Int("shards", len(shards)), slog.Any("error", err))
	}
	return out, err
}

// Peek returns the cached relationship regardless of freshness.
func (c *Cache) Peek(viewerID, targetID string) (Relationship, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[PairKey{Viewer: viewerID, Target: targetID}]
	return e.rel, ok
}

// Set replaces the pair's entry and returns its new version.
func (c *Cache) Set(viewerID, targetID string, rel Relationship) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeLocked(PairKey{Viewer: viewerID, Target: targetID}, rel)
}

// CompareAndSwap replaces the pair's entry only if its version is still
// expected. It returns the new version and whether the swap happened.
func (c *Cache) CompareAndSwap(viewerID, targetID string, expected uint64, rel Relationship) (uint64, bool) {
	key := PairKey{Viewer: viewerID, Target: targetID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versionLocked(key) != expected {
		return 0, false
	}
	return c.storeLocked(key, rel), true
}

// Invalidate forces the next read of each pair to reload, here and in any
// loader that keeps its own copy.
func (c *Cache) Invalidate(ctx context.Context, pairs ...PairKey) error {
	now := c.now()
	c.mu.Lock()
	for _, key := range pairs {
		c.touched[key] = now
	}
	c.mu.Unlock()

	return c.forgetShared(ctx, pairs...)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// snapshot returns the full entry for a pair so it can be restored later.
func (c *Cache) snapshot(key PairKey) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// restore puts prev back if the entry still carries version expected. An
// absent prev removes the entry.
func (c *Cache) restore(key PairKey, expected uint64, prev entry, existed bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versionLocked(key) != expected {
		return false
	}
	if !existed {
		delete(c.entries, key)
		return true
	}
	c.version++
	prev.version = c.version
	prev.lastUsed = c.now()
	c.entries[key] = prev
	return true
}

// fetch loads a pair from the loader without consulting or filling the cache.
func (c *Cache) fetch(ctx context.Context, key PairKey) (Relationship, error) {
	if err := c.forgetShared(ctx, key); err != nil {
		logging.FromContext(ctx).Warn("shared relationship cache not cleared",
			slog.String("targetId", key.Target), slog.Any("error", err))
	}
	lctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()
	rel, err := c.loader.LoadPair(lctx, key.Viewer, key.Target)
	if err != nil {
		return none(), err
	}
	return rel.normalize(), nil
}

func (c *Cache) forgetShared(ctx context.Context, pairs ...PairKey) error {
	f, ok := c.loader.(Forgetter)
	if !ok || len(pairs) == 0 {
		return nil
	}
	return f.Forget(ctx, pairs...)
}

// dropShared clears the loader's copy of pairs touched by a commit, so a value
// written back by a read that overlapped the commit is not served again.
func (c *Cache) dropShared(ctx context.Context, pairs ...PairKey) {
	if err := c.forgetShared(ctx, pairs...); err != nil {
		logging.FromContext(ctx).Warn("shared relationship cache not cleared",
			slog.Int("pairs", len(pairs)), slog.Any("error", err))
	}
}

// loadPair runs inside the pair flight. The load is detached from the first
// caller's cancellation so that other waiters still get the result.
func (c *Cache) loadPair(ctx context.Context, key PairKey) (Relationship, error) {
	c.mu.Lock()
	version := c.versionLocked(key)
	_, touched := c.touched[key]
	c.mu.Unlock()

	started := c.now()
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.readTimeout)
	defer cancel()

	if touched {
		c.dropShared(lctx, key)
	}

	rel, err := c.loader.LoadPair(lctx, key.Viewer, key.Target)
	if err != nil {
		return none(), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillLocked(key, version, rel.normalize(), started), nil
}

func (c *Cache) loadShard(ctx context.Context, viewerID string, shard []string) (map[string]Relationship, error) {
	key, _ := NewBatchKey(viewerID, shard)
	ch := c.batches.DoChan(key.String(), func() (any, error) {
		c.mu.Lock()
		versions := make(map[string]uint64, len(shard))
		var touched []PairKey
		for _, id := range shard {
			pair := PairKey{Viewer: viewerID, Target: id}
			versions[id] = c.versionLocked(pair)
			if _, ok := c.touched[pair]; ok {
				touched = append(touched, pair)
			}
		}
		c.mu.Unlock()

		started := c.now()
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.readTimeout)
		defer cancel()

		c.dropShared(lctx, touched...)

		rels, err := c.loader.LoadBatch(lctx, viewerID, shard)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		out := make(map[string]Relationship, len(shard))
		for _, id := range shard {
			rel, ok := rels[id]
			if !ok {
				rel = none()
			}
			out[id] = c.fillLocked(PairKey{Viewer: viewerID, Target: id}, versions[id], rel.normalize(), started)
		}
		return out, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.LoadCoalesced("batch")
		}
		if res.Err != nil {
			return nil, fmt.Errorf("load relationship batch of %d: %w", len(shard), res.Err)
		}
		return res.Val.(map[string]Relationship), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fillLocked stores a loaded value unless the entry changed since the load
// started, in which case the newer cached value wins.
func (c *Cache) fillLocked(key PairKey, version uint64, rel Relationship, fetchedAt time.Time) Relationship {
	current, ok := c.entries[key]
	if c.versionLocked(key) != version {
		if ok {
			return current.rel
		}
		return rel
	}

	c.version++
	c.entries[key] = entry{
		rel:       rel,
		fetchedAt: fetchedAt,
		lastUsed:  c.now(),
		version:   c.version,
	}
	return rel
}

func (c *Cache) lookup(key PairKey) (Relationship, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now)

	e, ok := c.entries[key]
	if !ok {
		return Relationship{}, false
	}
	if now.Sub(e.fetchedAt) >= c.freshness {
		return Relationship{}, false
	}
	if touched, ok := c.touched[key]; ok && touched.After(e.fetchedAt) {
		return Relationship{}, false
	}

	e.lastUsed = now
	c.entries[key] = e
	return e.rel, true
}

func (c *Cache) storeLocked(key PairKey, rel Relationship) uint64 {
	now := c.now()
	c.version++
	c.entries[key] = entry{
		rel:       rel.normalize(),
		fetchedAt: now,
		lastUsed:  now,
		version:   c.version,
	}
	return c.version
}

func (c *Cache) versionLocked(key PairKey) uint64 {
	return c.entries[key].version
}

// sweepLocked drops entries unused for longer than the retention window. It
// runs at most once per fifth of the window.
func (c *Cache) sweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < c.retention/5 {
		return
	}
	c.lastSweep = now

	for key, e := range c.entries {
		if now.Sub(e.lastUsed) > c.retention {
			delete(c.entries, key)
		}
	}
	for key, at := range c.touched {
		if now.Sub(at) > c.retention {
			delete(c.touched, key)
		}
	}
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
