package testutil

import (
	"testing"

	"dupi-go/internal/database"
	"dupi-go/internal/dupi"
)

// NewTestCatalog creates a new in-memory SQLite catalog with migrations applied.
// The catalog is automatically closed when the test completes.
func NewTestCatalog(t *testing.T, clock dupi.Clock) *database.SQLiteCatalog {
	t.Helper()

	catalog, err := database.NewSQLiteCatalog(":memory:", clock, NewStubIDGenerator())
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	if err := catalog.Migrate(); err != nil {
		catalog.Close()
		t.Fatalf("failed to migrate catalog: %v", err)
	}

	t.Cleanup(func() {
		catalog.Close()
	})

	return catalog
}
