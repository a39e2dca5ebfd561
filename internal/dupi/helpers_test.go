package dupi_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"dupi-go/internal/database"
	"dupi-go/internal/dupi"
	"dupi-go/internal/hashing"
	"dupi-go/internal/testutil"
)

// harness wires a Service over the mock filesystem and an in-memory catalog.
type harness struct {
	fsys    *testutil.MockFilesystemManager
	catalog *database.SQLiteCatalog
	clock   *testutil.StubClock
	fast    *testutil.CountingHasher
	strong  *testutil.CountingHasher
	svc     *dupi.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := testutil.FixedClock()
	h := &harness{
		fsys:    testutil.NewMockFilesystemManager(),
		catalog: testutil.NewTestCatalog(t, clock),
		clock:   clock,
		fast:    testutil.NewCountingHasher(hashing.NewXXH64()),
		strong:  testutil.NewCountingHasher(hashing.NewSHA256()),
	}
	h.svc = h.service(h.fast, h.strong)
	return h
}

// service builds another Service over the same filesystem and catalog.
func (h *harness) service(fast, strong dupi.Hasher) *dupi.Service {
	return dupi.NewService(h.catalog, h.fsys, fast, strong, nil, h.clock, testutil.NewStubIDGenerator())
}

func (h *harness) resetCounters() {
	h.fast.Reset()
	h.strong.Reset()
}

func (h *harness) scan(t *testing.T, root string, opts dupi.ScanOptions) *dupi.ScanReport {
	t.Helper()
	report, err := h.svc.Scan(context.Background(), root, opts)
	require.NoError(t, err)
	require.Equal(t, dupi.RunComplete, report.Status)
	return report
}

func (h *harness) lookup(t *testing.T, path string) *dupi.FileRecord {
	t.Helper()
	rec, err := h.catalog.Lookup(context.Background(), path)
	require.NoError(t, err)
	return rec
}

func (h *harness) groups(t *testing.T) []*dupi.DuplicateGroup {
	t.Helper()
	groups, err := h.svc.ListDuplicates(context.Background(), dupi.OldestPolicy{}, dupi.ListOptions{})
	require.NoError(t, err)
	return groups
}

// snapshot captures the observable catalog state per path, ignoring
// generation numbers and timestamps.
type recordState struct {
	Kind   dupi.FileKind
	Size   int64
	Fast   string
	Strong string
	Status dupi.Status
}

func catalogState(t *testing.T, catalog dupi.CatalogReader, rootID string) map[string]recordState {
	t.Helper()
	recs, err := catalog.ListRecords(context.Background(), rootID)
	require.NoError(t, err)
	out := make(map[string]recordState, len(recs))
	for _, r := range recs {
		out[r.Path] = recordState{
			Kind:   r.Kind,
			Size:   r.Size,
			Fast:   r.FastFingerprint.String,
			Strong: r.StrongHash.String,
			Status: r.Status,
		}
	}
	return out
}

func groupPaths(groups []*dupi.DuplicateGroup) [][]string {
	var out [][]string
	for _, g := range groups {
		var paths []string
		for _, m := range g.Members {
			paths = append(paths, m.Path)
		}
		out = append(out, paths)
	}
	return out
}

func rootID(t *testing.T, svc *dupi.Service, path string) string {
	t.Helper()
	roots, err := svc.Roots(context.Background())
	require.NoError(t, err)
	for _, r := range roots {
		if r.Path == path {
			return r.ID
		}
	}
	t.Fatalf("root %s not tracked", path)
	return ""
}
