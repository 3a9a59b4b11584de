package storage

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the digest length in bytes. Hex form is twice as long.
const HashSize = 32

// HashContent returns the hex-encoded BLAKE3-256 digest of data. This is
// the canonical content hash: the storage key and the value the ledger
// commits to.
func HashContent(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidHash reports whether s looks like a hash produced by HashContent.
func ValidHash(s string) bool {
	if len(s) != HashSize*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
