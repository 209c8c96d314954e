package core

import (
	"fmt"
	"os"

	"scantrack/internal/infra/persistence/memory"
	"scantrack/internal/infra/persistence/postgres"
	"scantrack/internal/infra/persistence/sqlite"
	"scantrack/pkg/domain"
)

// StorageDriver identifies a concrete storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenStore selects a backend. Empty arguments fall back to environment
// variables, then to sqlite.
//
//	SCANTRACK_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	SCANTRACK_SQLITE_PATH: path to sqlite file (default ./scantrack.db)
//	SCANTRACK_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenStore(driver, sqlitePath, postgresDSN string) (domain.Store, error) {
	if driver == "" {
		driver = os.Getenv("SCANTRACK_STORAGE_DRIVER")
	}
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		if sqlitePath == "" {
			sqlitePath = os.Getenv("SCANTRACK_SQLITE_PATH")
		}
		return sqlite.NewStore(sqlitePath)
	case StoragePostgres:
		if postgresDSN == "" {
			postgresDSN = os.Getenv("SCANTRACK_POSTGRES_DSN")
		}
		return postgres.NewStore(postgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
