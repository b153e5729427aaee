package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meetloop/backend/internal/config"
)

func memoryConfig() config.Config {
	return config.Config{
		Store:      config.StoreMemory,
		JWTSecret:  "0123456789abcdef0123456789abcdef",
		JWTIssuer:  "meetloop-test",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Relationships: config.RelationshipConfig{
			Freshness:       time.Second,
			Retention:       time.Minute,
			BatchSize:       10,
			ReadTimeout:     time.Second,
			MutationTimeout: time.Second,
		},
		RateLimits: config.RateLimitConfig{MutationsPerMinute: 60, MutationBurst: 5, AuthPerMinute: 10, AuthBurst: 5},
	}
}

func TestBuildDependencies(t *testing.T) {
	deps, cleanup, err := buildDependencies(context.Background(), nil, memoryConfig(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := cleanup(ctx); err != nil {
			t.Errorf("cleanup: %v", err)
		}
	}()

	if deps.Users == nil {
		t.Fatal("expected user repository to be configured")
	}
	if deps.Sessions == nil || deps.Authenticator == nil {
		t.Fatal("expected session manager to be configured")
	}
	if deps.Relationships == nil {
		t.Fatal("expected relationship coordinator to be configured")
	}
	if deps.AuthLimiter == nil || deps.MutationLimiter == nil {
		t.Fatal("expected rate limiters to be configured")
	}
	if len(deps.HealthChecks) != 0 {
		t.Fatalf("expected no external health checks for the memory store, got %d", len(deps.HealthChecks))
	}
}

func TestBuildDependenciesRequiresPoolForPostgres(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store = config.StorePostgres

	if _, _, err := buildDependencies(context.Background(), nil, cfg, prometheus.NewRegistry()); err == nil {
		t.Fatal("expected error without a pool")
	}
}

func TestBuildDependenciesRejectsShortSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.JWTSecret = "short"

	if _, _, err := buildDependencies(context.Background(), nil, cfg, prometheus.NewRegistry()); err == nil {
		t.Fatal("expected token configuration error")
	}
}

func TestListMigrationsSortsSQLFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "seeds"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := listMigrations(dir)
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	if len(got) != 2 || got[0] != "0001_a.sql" || got[1] != "0002_b.sql" {
		t.Fatalf("unexpected migrations: %v", got)
	}
}

func TestSeedFileName(t *testing.T) {
	if got := seedFileName("dev"); got != "dev_seed.sql" {
		t.Fatalf("unexpected seed file %q", got)
	}
	if got := seedFileName("custom.sql"); got != "custom.sql" {
		t.Fatalf("unexpected seed file %q", got)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := Run(context.Background(), []string{"launch"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err := Run(context.Background(), nil); err == nil {
		t.Fatal("expected error without a command")
	}
}
