package table

import (
	"context"
	"fmt"
)

// Store kinds accepted by Open.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config selects and configures the backing store.
type Config struct {
	Store    string         `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// Open returns the Store named by cfg.Store. Empty means memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Store {
	case StoreMemory, "":
		return NewMemoryStore(), nil
	case StoreRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case StorePostgres:
		return NewPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown table store %q", cfg.Store)
	}
}
