package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"dupi-go/internal/dupi"
)

// testHeader marks a catalog snapshot sealed by TestEncryptor.
var testHeader = []byte("DUPISNAP")

// ErrWrongPassphrase is returned by TestEncryptor.Unlock when Setup recorded
// a different passphrase.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// TestEncryptor seals snapshots by prefixing testHeader. Unlock accepts any
// passphrase until Setup records one.
type TestEncryptor struct {
	passphrase string
	setupDone  bool
}

var _ dupi.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	e.setupDone = true
	return nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, io.MultiReader(bytes.NewReader(testHeader), r)); err != nil {
		return fmt.Errorf("sealing snapshot: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (dupi.DecryptionContext, error) {
	if e.setupDone && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return TestDecryptionContext{}, nil
}

// TestDecryptionContext opens snapshots sealed by TestEncryptor.
type TestDecryptionContext struct{}

var _ dupi.DecryptionContext = TestDecryptionContext{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	got := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, got); err != nil {
		return fmt.Errorf("reading snapshot header: %w", err)
	}
	if !bytes.Equal(got, testHeader) {
		return fmt.Errorf("not a sealed test snapshot (header %q)", got)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	return nil
}
