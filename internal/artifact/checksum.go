package artifact

import (
	"crypto/sha256"
	"encoding/hex"
)

const checksumPrefix = "sha256:"

// Checksum returns the SHA-256 digest of data as "sha256:<hex>".
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return checksumPrefix + hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of data and compares it with digest.
func Verify(data []byte, digest string) bool {
	return Checksum(data) == digest
}
