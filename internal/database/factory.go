package database

import (
	"fmt"
	"os"
	"path/filepath"

	"dupi-go/internal/config"
	"dupi-go/internal/dupi"
)

// NewCatalogFromConfig creates a catalog based on the catalog config type.
// The schema is migrated to the latest version before it is returned.
func NewCatalogFromConfig(cfg config.CatalogConfig, hostID string, clock dupi.Clock, idgen dupi.IDGenerator) (*SQLiteCatalog, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite catalog")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
		path = CatalogPath(cfg.DataDir, hostID)
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Type)
	}

	catalog, err := NewSQLiteCatalog(path, clock, idgen)
	if err != nil {
		return nil, err
	}
	if err := catalog.Migrate(); err != nil {
		catalog.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}
	if err := catalog.CheckMigrations(); err != nil {
		catalog.Close()
		return nil, fmt.Errorf("checking catalog schema: %w", err)
	}
	return catalog, nil
}

// CatalogPath returns the catalog file for a host under dataDir.
func CatalogPath(dataDir, hostID string) string {
	return filepath.Join(dataDir, hostID+".db")
}
