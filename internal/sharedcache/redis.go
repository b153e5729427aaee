// Package sharedcache keeps resolved relationships in Redis so that every
// replica can answer a recent lookup without querying the store.
package sharedcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meetloop/backend/internal/logging"
	"github.com/meetloop/backend/internal/relationships"
)

const (
	defaultPrefix = "meetloop:rel"
	// DefaultTTL matches the in-process freshness window.
	DefaultTTL = 30 * time.Second
)

// Connect opens a Redis client and verifies it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisLoader is a read-through relationships.Loader. Hits are served from
// Redis; misses go to the next loader and are written back with a TTL. Redis
// errors never fail a read, they only bypass the shared copy.
type RedisLoader struct {
	client redis.Cmdable
	next   relationships.Loader
	ttl    time.Duration
	prefix string
}

// NewRedisLoader wraps next with a Redis read-through layer.
func NewRedisLoader(client redis.Cmdable, next relationships.Loader, ttl time.Duration) *RedisLoader {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLoader{client: client, next: next, ttl: ttl, prefix: defaultPrefix}
}

// LoadPair resolves one pair through the shared cache.
func (l *RedisLoader) LoadPair(ctx context.Context, viewerID, targetID string) (relationships.Relationship, error) {
	rels, err := l.LoadBatch(ctx, viewerID, []string{targetID})
	if err != nil {
		return relationships.Relationship{Status: relationships.StatusNone}, err
	}
	return rels[targetID], nil
}

// LoadBatch answers what Redis holds and loads the remainder in one call to the next loader.
func (l *RedisLoader) LoadBatch(ctx context.Context, viewerID string, targetIDs []string) (map[string]relationships.Relationship, error) {
	logger := logging.FromContext(ctx)
	out := make(map[string]relationships.Relationship, len(targetIDs))

	keys := make([]string, len(targetIDs))
	for i, id := range targetIDs {
		keys[i] = l.key(relationships.PairKey{Viewer: viewerID, Target: id})
	}

	missing := targetIDs
	if len(keys) > 0 {
		values, err := l.client.MGet(ctx, keys...).Result()
		if err != nil {
			logger.Warn("shared relationship cache unavailable", slog.Any("error", err))
		} else {
			missing = nil
			for i, value := range values {
				rel, ok := decode(value)
				if !ok {
					missing = append(missing, targetIDs[i])
					continue
				}
				out[targetIDs[i]] = rel
			}
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := l.next.LoadBatch(ctx, viewerID, missing)
	if err != nil {
		return nil, err
	}

	pipe := l.client.Pipeline()
	for _, id := range missing {
		rel := loaded[id]
		out[id] = rel
		data, err := json.Marshal(rel)
		if err != nil {
			return nil, fmt.Errorf("encode relationship: %w", err)
		}
		pipe.Set(ctx, l.key(relationships.PairKey{Viewer: viewerID, Target: id}), data, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("shared relationship cache not written", slog.Int("entries", len(missing)), slog.Any("error", err))
	}
	return out, nil
}

// Forget deletes the shared copies of the given pairs.
func (l *RedisLoader) Forget(ctx context.Context, pairs ...relationships.PairKey) error {
	if len(pairs) == 0 {
		return nil
	}
	keys := make([]string, len(pairs))
	for i, pair := range pairs {
		keys[i] = l.key(pair)
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete shared relationships: %w", err)
	}
	return nil
}

func (l *RedisLoader) key(pair relationships.PairKey) string {
	return l.prefix + ":" + pair.String()
}

func decode(value any) (relationships.Relationship, bool) {
	raw, ok := value.(string)
	if !ok {
		return relationships.Relationship{}, false
	}
	var rel relationships.Relationship
	if err := json.Unmarshal([]byte(raw), &rel); err != nil || !rel.Status.Valid() {
		return relationships.Relationship{}, false
	}
	return rel, true
}

var (
	_ relationships.Loader    = (*RedisLoader)(nil)
	_ relationships.Forgetter = (*RedisLoader)(nil)
)
