package storage

import (
	"context"
	"fmt"

	"lifeline/internal/infra"
)

// Open builds the store selected by cfg.StorageDriver. The returned func
// releases any connection the store holds.
func Open(ctx context.Context, cfg *infra.Config, logger infra.Logger) (Store, func(), error) {
	noop := func() {}
	switch cfg.StorageDriver {
	case infra.StorageMemory:
		return NewMemoryStore(), noop, nil
	case infra.StorageFile, "":
		fs, err := NewFileStore(cfg.StoragePath)
		if err != nil {
			return nil, noop, err
		}
		return fs, noop, nil
	case infra.StoragePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		store := NewPGStore(infra.NewSQLRunner(pool, logger), cfg.AppEnv)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("storage: migrate: %w", err)
		}
		return store, pool.Close, nil
	case infra.StorageRedis:
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		return NewRedisStore(client, "lifeline:"+cfg.AppEnv+":"), func() { _ = client.Close() }, nil
	}
	return nil, noop, fmt.Errorf("storage: unsupported driver %q", cfg.StorageDriver)
}
