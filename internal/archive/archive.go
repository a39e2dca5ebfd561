// Package archive stores encrypted catalog snapshots away from the live
// catalog file.
package archive

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ErrSnapshotNotFound is returned by GetSnapshot when the host has no
// stored snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// versionMetaKey is the object metadata key carrying the snapshot version.
const versionMetaKey = "dupi-version"

// snapshotKey returns the object key of a host's snapshot under prefix.
func snapshotKey(prefix, hostID string) string {
	return path.Join(strings.Trim(prefix, "/"), "snapshots", hostID+".db.age")
}

func parseVersion(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing snapshot version %q: %w", s, err)
	}
	return v, nil
}

func validHostID(hostID string) error {
	if hostID == "" || strings.ContainsAny(hostID, `/\`) || hostID == "." || hostID == ".." {
		return fmt.Errorf("invalid host id %q", hostID)
	}
	return nil
}
