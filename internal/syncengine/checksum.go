package syncengine

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum computes the content-addressable digest used for change
// detection (§4.E "Change detection").
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
