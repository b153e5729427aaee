package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meetloop/backend/internal/auth"
	"github.com/meetloop/backend/internal/config"
	"github.com/meetloop/backend/internal/db"
	"github.com/meetloop/backend/internal/events"
	"github.com/meetloop/backend/internal/handlers"
	"github.com/meetloop/backend/internal/metrics"
	"github.com/meetloop/backend/internal/middleware"
	"github.com/meetloop/backend/internal/relationships"
	"github.com/meetloop/backend/internal/repositories"
	"github.com/meetloop/backend/internal/sharedcache"
)

var (
	_ relationships.Store = (*repositories.PostgresRelationshipStore)(nil)
	_ relationships.Store = (*repositories.MemoryRelationshipStore)(nil)
)

const limiterTTL = 10 * time.Minute

// buildDependencies wires together concrete implementations used by the HTTP handlers.
// pool may be nil when cfg selects the in-memory store. The returned cleanup
// closes every connection opened here.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, reg prometheus.Registerer) (handlers.Dependencies, func(context.Context) error, error) {
	var (
		closers []func() error
		checks  []handlers.HealthChecker
	)
	cleanup := func(context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	var (
		users    handlers.UserStore
		sessions auth.SessionStore
		store    relationships.Store
	)
	switch cfg.Store {
	case config.StoreMemory:
		users = repositories.NewMemoryUserRepository()
		sessions = auth.NewInMemorySessionStore()
		store = repositories.NewMemoryRelationshipStore()
	default:
		if pool == nil {
			return handlers.Dependencies{}, nil, errors.New("postgres store selected without a connection pool")
		}
		users = repositories.NewPostgresUserRepository(pool)
		sessions = repositories.NewPostgresSessionStore(pool)
		store = repositories.NewPostgresRelationshipStore(pool)
		checks = append(checks, postgresCheck{pool: pool})
	}

	relMetrics := metrics.NewRelationships(reg)

	var loader relationships.Loader = relationships.NewStoreLoader(store)
	if cfg.Redis.Addr != "" {
		client, err := sharedcache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = cleanup(ctx)
			return handlers.Dependencies{}, nil, err
		}
		closers = append(closers, client.Close)
		checks = append(checks, redisCheck{client: client})
		loader = sharedcache.NewRedisLoader(client, loader, cfg.Redis.TTL)
	}

	var publisher relationships.EventPublisher = events.Noop{}
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL)
		if err != nil {
			_ = cleanup(ctx)
			return handlers.Dependencies{}, nil, err
		}
		closers = append(closers, func() error { return nc.Drain() })
		checks = append(checks, natsCheck{nc: nc})
		publisher = events.NewNatsPublisher(nc, cfg.NATS.SubjectPrefix)
	}

	cache := relationships.NewCache(loader, relationships.CacheConfig{
		Freshness:   cfg.Relationships.Freshness,
		Retention:   cfg.Relationships.Retention,
		BatchSize:   cfg.Relationships.BatchSize,
		ReadTimeout: cfg.Relationships.ReadTimeout,
		Metrics:     relMetrics,
	})
	coordinator := relationships.NewCoordinator(store, cache, relationships.CoordinatorConfig{
		Timeout: cfg.Relationships.MutationTimeout,
		Events:  publisher,
		Metrics: relMetrics,
	})

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		_ = cleanup(ctx)
		return handlers.Dependencies{}, nil, fmt.Errorf("configure tokens: %w", err)
	}
	manager := auth.NewManager(cfg.AccessTTL, cfg.RefreshTTL, sessions, tokens)

	slog.Info("relationship stack ready",
		slog.String("store", cfg.Store),
		slog.Bool("redis", cfg.Redis.Addr != ""),
		slog.Bool("nats", cfg.NATS.URL != ""),
	)

	return handlers.Dependencies{
		Users:           users,
		Sessions:        manager,
		Authenticator:   manager,
		Relationships:   coordinator,
		AuthLimiter:     middleware.NewKeyedRateLimiter(cfg.RateLimits.AuthPerMinute, time.Minute, cfg.RateLimits.AuthBurst, limiterTTL),
		MutationLimiter: middleware.NewKeyedRateLimiter(cfg.RateLimits.MutationsPerMinute, time.Minute, cfg.RateLimits.MutationBurst, limiterTTL),
		HealthChecks:    checks,
	}, cleanup, nil
}
