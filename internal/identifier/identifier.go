package identifier

import (
	"crypto/sha256"
	"encoding/hex"
)

// Compute derives the scan identifier from the immutable record fields.
// Concatenation order is fixed (batchNumber + expiryDate + serialNumber,
// no separators); the same inputs always yield the same 64-char lowercase hex.
func Compute(batchNumber, expiryDate, serialNumber string) string {
	sum := sha256.Sum256([]byte(batchNumber + expiryDate + serialNumber))
	return hex.EncodeToString(sum[:])
}

// IsValid reports whether s looks like a computed identifier:
// exactly 64 hex characters.
func IsValid(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
