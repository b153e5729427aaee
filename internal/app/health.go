package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/meetloop/backend/internal/db"
)

type postgresCheck struct {
	pool db.Pool
}

func (postgresCheck) Name() string { return "postgres" }

func (c postgresCheck) Check(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return conn.Ping(ctx)
}

type redisCheck struct {
	client redis.Cmdable
}

func (redisCheck) Name() string { return "redis" }

func (c redisCheck) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type natsCheck struct {
	nc *nats.Conn
}

func (natsCheck) Name() string { return "nats" }

func (c natsCheck) Check(context.Context) error {
	if status := c.nc.Status(); status != nats.CONNECTED {
		return errors.New("nats connection " + status.String())
	}
	return nil
}
