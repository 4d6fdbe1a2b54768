package core

import (
	"context"
	"fmt"

	"commitwatch/internal/config"
	"commitwatch/internal/infra/persistence/memory"
	"commitwatch/internal/infra/persistence/postgres"
	"commitwatch/internal/infra/persistence/sqlite"
	"commitwatch/pkg/domain"
)

// HostStore is the record store surface shared by every storage driver.
type HostStore interface {
	Open() *memory.Conn
	Count(class *domain.Class) int
	ExportState() memory.Snapshot
	Close() error
}

var (
	_ HostStore = (*memory.Store)(nil)
	_ HostStore = (*sqlite.Store)(nil)
	_ HostStore = (*postgres.Store)(nil)
)

// OpenStore selects a host store backend for cfg, raising lifecycle hooks on
// the engine.
func (e *Engine) OpenStore(ctx context.Context, cfg config.StorageConfig) (HostStore, error) {
	switch cfg.Driver {
	case config.StorageMemory, "":
		return memory.NewStore(e, memory.WithLogger(e.logger)), nil
	case config.StorageSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath, e, e.logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoragePostgres:
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN, e, e.logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
