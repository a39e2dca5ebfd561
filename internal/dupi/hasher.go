package dupi

import (
	"encoding/hex"
	"hash"
	"strings"
)

// Hasher is a pluggable digest capability. New returns a fresh hash.Hash
// producing a fixed-size digest over whatever bytes are written to it.
type Hasher interface {
	// Name identifies the algorithm; it prefixes every stored digest.
	Name() string
	New() hash.Hash
}

// FormatDigest renders a digest the way the catalog stores it:
// "<algorithm>:<lowercase hex>".
func FormatDigest(h Hasher, sum []byte) string {
	return h.Name() + ":" + hex.EncodeToString(sum)
}

// DigestAlgorithm returns the algorithm prefix of a stored digest.
func DigestAlgorithm(digest string) string {
	algo, _, ok := strings.Cut(digest, ":")
	if !ok {
		return ""
	}
	return algo
}
