// Package hashing provides the digest algorithms used for fast
// fingerprints and strong content hashes.
package hashing

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"

	"dupi-go/internal/dupi"
)

const (
	XXH64   = "xxh64"
	SHA256  = "sha256"
	SHA512  = "sha512"
	BLAKE2b = "blake2b"
)

type hasher struct {
	name string
	new  func() hash.Hash
}

func (h hasher) Name() string   { return h.name }
func (h hasher) New() hash.Hash { return h.new() }
func (h hasher) String() string { return h.name }

var _ dupi.Hasher = hasher{}

// NewXXH64 returns the non-cryptographic fingerprint hasher.
func NewXXH64() dupi.Hasher {
	return hasher{name: XXH64, new: func() hash.Hash { return xxhash.New() }}
}

// NewSHA256 returns the default strong hasher.
func NewSHA256() dupi.Hasher {
	return hasher{name: SHA256, new: sha256.New}
}

func NewSHA512() dupi.Hasher {
	return hasher{name: SHA512, new: sha512.New}
}

// NewBLAKE2b returns an unkeyed BLAKE2b-256 hasher.
func NewBLAKE2b() dupi.Hasher {
	return hasher{name: BLAKE2b, new: func() hash.Hash {
		h, err := blake2b.New256(nil)
		if err != nil {
			// Only fails for keys longer than 64 bytes.
			panic(err)
		}
		return h
	}}
}

// FastByName returns the fast fingerprint hasher registered under name.
func FastByName(name string) (dupi.Hasher, error) {
	switch name {
	case "", XXH64:
		return NewXXH64(), nil
	default:
		return nil, &dupi.ConfigError{Field: "fast_hash", Reason: fmt.Sprintf("unknown algorithm %q", name)}
	}
}

// StrongByName returns the strong hasher registered under name.
func StrongByName(name string) (dupi.Hasher, error) {
	switch name {
	case "", SHA256:
		return NewSHA256(), nil
	case SHA512:
		return NewSHA512(), nil
	case BLAKE2b:
		return NewBLAKE2b(), nil
	default:
		return nil, &dupi.ConfigError{Field: "strong_hash_algorithm", Reason: fmt.Sprintf("unknown algorithm %q", name)}
	}
}
