package dupi

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of a catalog record.
type Status string

const (
	StatusActive  Status = "active"
	StatusMissing Status = "missing"
)

// FileRecord is the persisted catalog row for one path.
//
// A record with a valid StrongHash always has a valid FastFingerprint, and
// both were computed from the bytes the file had at Size/ModTime. When the
// file's size or mtime changes, both hashes are dropped together.
type FileRecord struct {
	Path            string
	RootID          string
	Kind            FileKind
	LinkTarget      string
	Size            int64
	ModTime         time.Time
	Device          uint64
	Inode           uint64
	FastFingerprint sql.NullString
	StrongHash      sql.NullString
	Generation      int64
	Status          Status
	UpdatedAt       time.Time
}

// Clone returns a copy of r that can be modified independently.
func (r *FileRecord) Clone() *FileRecord {
	c := *r
	return &c
}

// ClearHashes drops both digests. Used whenever the bytes the digests were
// computed from can no longer be vouched for.
func (r *FileRecord) ClearHashes() {
	r.FastFingerprint = sql.NullString{}
	r.StrongHash = sql.NullString{}
}

// SameInode reports whether r and other are hard links of one inode.
// Records without inode information never match.
func (r *FileRecord) SameInode(other *FileRecord) bool {
	if r.Inode == 0 || other.Inode == 0 {
		return false
	}
	return r.Device == other.Device && r.Inode == other.Inode
}

// Root is a tracked tree root. Each root has its own generation counter.
type Root struct {
	ID                  string
	Path                string
	CreatedAt           time.Time
	LastGeneration      int64 // highest generation handed out
	CompletedGeneration int64 // highest generation whose completion was applied
}

// DuplicateKey identifies a candidate duplicate group in the catalog.
type DuplicateKey struct {
	StrongHash string
	Size       int64
}

// ScanRunStatus is the outcome of a persisted scan run.
type ScanRunStatus string

const (
	RunRunning   ScanRunStatus = "running"
	RunComplete  ScanRunStatus = "complete"
	RunCancelled ScanRunStatus = "cancelled"
	RunFailed    ScanRunStatus = "failed"
)

// ScanRun is the audit row kept for every scan pass.
type ScanRun struct {
	ID            int64
	Token         string
	RootID        string
	RootPath      string
	Generation    int64
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Status        ScanRunStatus
	FilesIndexed  int64
	FilesHashed   int64
	BytesHashed   int64
	MarkedMissing int64
	SoftFailures  int64
}
