package testutil

import (
	"dupi-go/internal/archive"
	"dupi-go/internal/dupi"
	"dupi-go/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() dupi.Encryptor {
	return encryption.NewTestEncryptor()
}

// NewTestArchive creates a new in-memory snapshot archive for testing.
func NewTestArchive() *archive.MemoryArchive {
	return archive.NewMemoryArchive("test-archive")
}
