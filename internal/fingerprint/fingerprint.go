// Package fingerprint computes the content hashes that drive incremental
// indexing and the keys that name per-file locks.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
)

// Missing is the digest reported for files that cannot be read. It never
// equals a real digest, so an unreadable file always looks changed.
const Missing = ""

// keyBytes is how much of the path digest names a lock (16 bytes = 32 hex chars).
const keyBytes = 16

// Bytes returns the hex SHA-256 digest of data
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// File returns the hex SHA-256 digest of the file's contents, or Missing if
// the file vanished or could not be read
func File(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return Missing
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Missing
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Key derives a deterministic lock key from a file path. The path is cleaned
// and made absolute first so that equivalent spellings share one lock.
func Key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return hex.EncodeToString(sum[:keyBytes])
}
