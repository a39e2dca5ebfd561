package database

import (
	"context"
	"testing"

	"dupi-go/internal/config"
)

func TestNewCatalogFromConfig(t *testing.T) {
	t.Run("memory catalog", func(t *testing.T) {
		cfg := config.CatalogConfig{Type: "memory"}
		got, err := NewCatalogFromConfig(cfg, "test-host-123", nil, nil)
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if got.Path() != ":memory:" {
			t.Errorf("Path() = %q, want :memory:", got.Path())
		}
		if _, err := got.ListRoots(context.Background()); err != nil {
			t.Errorf("catalog not migrated: %v", err)
		}
	})

	t.Run("sqlite catalog", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.CatalogConfig{Type: "sqlite", DataDir: dir}
		got, err := NewCatalogFromConfig(cfg, "test-host-123", nil, nil)
		if err != nil {
			t.Fatalf("NewCatalogFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if want := CatalogPath(dir, "test-host-123"); got.Path() != want {
			t.Errorf("Path() = %q, want %q", got.Path(), want)
		}
		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite catalog without data_dir", func(t *testing.T) {
		cfg := config.CatalogConfig{Type: "sqlite"}
		got, err := NewCatalogFromConfig(cfg, "test-host-123", nil, nil)

		if err == nil {
			t.Error("NewCatalogFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewCatalogFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown catalog type", func(t *testing.T) {
		cfg := config.CatalogConfig{Type: "unknown"}
		got, err := NewCatalogFromConfig(cfg, "test-host-123", nil, nil)

		if err == nil {
			t.Error("NewCatalogFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewCatalogFromConfig() should return nil on error")
			got.Close()
		}
	})
}
