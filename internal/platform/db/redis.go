package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/channelgate/channelgate/pkg/config"
)

// NewRedis returns a Redis client when an address is configured, nil
// otherwise. The idempotency guard uses it as an optional fast path; the
// durable Postgres store remains authoritative, so a missing or unreachable
// Redis only costs a round trip to the database.
func NewRedis(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		l.Infow("redis disabled, idempotency fast path off")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			l.Infow("closing redis client")
			return client.Close()
		},
	})

	l.Infow("connected to redis", "addr", cfg.Redis.Addr)
	return client, nil
}
