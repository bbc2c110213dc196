package tables

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeChecksum returns the "sha256:"-prefixed digest of data.
func ComputeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether data matches an expected ComputeChecksum value.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}
