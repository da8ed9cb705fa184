package core

import (
	"context"
	"fmt"
	"strings"

	"cyclekeeper/internal/infra/persistence/memory"
	"cyclekeeper/internal/infra/persistence/postgres"
	"cyclekeeper/internal/infra/persistence/sqlite"
	"cyclekeeper/pkg/domain"
)

// StorageDriver names a persistent store implementation.
type StorageDriver string

// Supported storage drivers.
const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// StorageOptions selects and parameterizes the persistent store.
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore constructs the configured store. The returned close
// function releases database handles and is safe to call for memory stores.
func OpenPersistentStore(ctx context.Context, opts StorageOptions, engine *domain.RulesEngine) (domain.PersistentStore, func() error, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	switch StorageDriver(strings.ToLower(string(opts.Driver))) {
	case StorageMemory, "":
		return memory.NewStore(engine), func() error { return nil }, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(opts.SQLitePath, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, opts.PostgresDSN, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
