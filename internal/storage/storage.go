// Package storage opens the configured ContextStore.
package storage

import (
	"fmt"

	"github.com/tjfontaine/knotgate/internal/config"
	"github.com/tjfontaine/knotgate/internal/core/ports"
	"github.com/tjfontaine/knotgate/internal/storage/memory"
	"github.com/tjfontaine/knotgate/internal/storage/sqldb"
)

// Open returns the store selected by cfg.Type. It returns a nil store for "none".
func Open(cfg config.StorageConfig) (ports.ContextStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(cfg.MaxRecords), nil
	case "sql":
		store, err := sqldb.New(sqldb.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
