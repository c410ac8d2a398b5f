package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/clawgate/internal/config"
	"github.com/nextlevelbuilder/clawgate/internal/store"
	"github.com/nextlevelbuilder/clawgate/internal/store/pg"
	"github.com/nextlevelbuilder/clawgate/internal/store/redis"
	"github.com/nextlevelbuilder/clawgate/internal/store/sqlite"
)

// openThreadStore returns the persistent thread store for cfg, or nil for
// the in-memory driver.
func openThreadStore(ctx context.Context, cfg config.StoreConfig) (store.ThreadStore, error) {
	var (
		st  store.ThreadStore
		err error
	)
	switch cfg.Driver {
	case "", "memory":
		slog.Info("thread mappings kept in memory only")
		return nil, nil
	case "sqlite":
		st, err = sqlite.Open(cfg.DSN)
	case "postgres":
		st, err = pg.Open(cfg.DSN)
	case "redis":
		st, err = redis.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("thread store opened", "driver", cfg.Driver)
	return st, nil
}
