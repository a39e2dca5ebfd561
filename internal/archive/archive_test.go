package archive

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"dupi-go/internal/dupi"
)

// archiveContract runs the behavior every SnapshotArchive shares.
func archiveContract(t *testing.T, newArchive func(t *testing.T) dupi.SnapshotArchive) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		a := newArchive(t)
		data := []byte("sealed catalog bytes")
		if err := a.PutSnapshot(ctx, "host-a", bytes.NewReader(data), int64(len(data)), 7); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}

		var got bytes.Buffer
		if err := a.GetSnapshot(ctx, "host-a", &got); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if !bytes.Equal(got.Bytes(), data) {
			t.Errorf("GetSnapshot() = %q, want %q", got.Bytes(), data)
		}

		v, err := a.SnapshotVersion(ctx, "host-a")
		if err != nil {
			t.Fatalf("SnapshotVersion() error = %v", err)
		}
		if v != 7 {
			t.Errorf("SnapshotVersion() = %d, want 7", v)
		}
	})

	t.Run("replaces previous snapshot", func(t *testing.T) {
		a := newArchive(t)
		for i, s := range []string{"first", "second snapshot"} {
			if err := a.PutSnapshot(ctx, "host-a", strings.NewReader(s), int64(len(s)), int64(i+1)); err != nil {
				t.Fatalf("PutSnapshot(%d) error = %v", i, err)
			}
		}

		var got bytes.Buffer
		if err := a.GetSnapshot(ctx, "host-a", &got); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if got.String() != "second snapshot" {
			t.Errorf("GetSnapshot() = %q", got.String())
		}
		if v, _ := a.SnapshotVersion(ctx, "host-a"); v != 2 {
			t.Errorf("SnapshotVersion() = %d, want 2", v)
		}
	})

	t.Run("hosts are independent", func(t *testing.T) {
		a := newArchive(t)
		if err := a.PutSnapshot(ctx, "host-a", strings.NewReader("a"), 1, 3); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}
		if v, _ := a.SnapshotVersion(ctx, "host-b"); v != 0 {
			t.Errorf("SnapshotVersion(host-b) = %d, want 0", v)
		}
		var buf bytes.Buffer
		if err := a.GetSnapshot(ctx, "host-b", &buf); !errors.Is(err, ErrSnapshotNotFound) {
			t.Errorf("GetSnapshot(host-b) error = %v, want ErrSnapshotNotFound", err)
		}
	})

	t.Run("size mismatch keeps previous snapshot", func(t *testing.T) {
		a := newArchive(t)
		if err := a.PutSnapshot(ctx, "host-a", strings.NewReader("good"), 4, 1); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}
		if err := a.PutSnapshot(ctx, "host-a", strings.NewReader("short"), 100, 2); err == nil {
			t.Fatal("PutSnapshot() expected size mismatch error")
		}

		var got bytes.Buffer
		if err := a.GetSnapshot(ctx, "host-a", &got); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if got.String() != "good" {
			t.Errorf("GetSnapshot() = %q, want previous snapshot", got.String())
		}
		if v, _ := a.SnapshotVersion(ctx, "host-a"); v != 1 {
			t.Errorf("SnapshotVersion() = %d, want 1", v)
		}
	})

	t.Run("rejects path-like host ids", func(t *testing.T) {
		a := newArchive(t)
		for _, host := range []string{"", "..", "a/b"} {
			if err := a.PutSnapshot(ctx, host, strings.NewReader("x"), 1, 1); err == nil {
				t.Errorf("PutSnapshot(%q) expected error", host)
			}
		}
	})

	t.Run("validates setup", func(t *testing.T) {
		if err := newArchive(t).ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}

func TestMemoryArchive(t *testing.T) {
	archiveContract(t, func(t *testing.T) dupi.SnapshotArchive {
		return NewMemoryArchive("test")
	})
}

func TestSnapshotKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "snapshots/host-1.db.age"},
		{"dupi", "dupi/snapshots/host-1.db.age"},
		{"/dupi/prod/", "dupi/prod/snapshots/host-1.db.age"},
	}
	for _, tt := range tests {
		if got := snapshotKey(tt.prefix, "host-1"); got != tt.want {
			t.Errorf("snapshotKey(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"42", 42, false},
		{" 42\n", 42, false},
		{"forty-two", 0, true},
	}
	for _, tt := range tests {
		got, err := parseVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseVersion(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
