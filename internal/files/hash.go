// Package files provides file hashing and include/exclude selection for
// transfers.
package files

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// HashFile computes the SHA-256 digest of a file as a hex-encoded string.
// This is the digest carried in chunk metadata and upload manifests.
func HashFile(path string) (string, error) {
	file, err := os.Open(path) //nolint:gosec // Path is provided by the caller
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close() //nolint:errcheck // Deferred close error is non-critical for read operation

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to compute hash: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the SHA-256 digest of data as a hex-encoded string.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewHasher returns a streaming hasher for chunk bodies. Callers write the
// payload through it and read the digest with SumHex.
func NewHasher() hash.Hash {
	return sha256.New()
}

// SumHex renders a hasher's digest as the hex string used on the wire.
func SumHex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyFileHash checks a file against an expected hex digest.
func VerifyFileHash(path string, expected string) error {
	actual, err := HashFile(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}
