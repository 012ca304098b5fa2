package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash returns the SHA3-256 digest of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashBytes returns the raw SHA3-256 digest of data.
func HashBytes(data []byte) []byte {
	h := sha3.Sum256(data)
	return h[:]
}

// Shake256 returns an outLen-byte SHAKE256 digest of data. Used wherever a
// variable-length or chained output is required: the temporal proof engine's
// sequential function and the VRF's pseudorandom output.
func Shake256(data []byte, outLen int) []byte {
	out := make([]byte, outLen)
	sha3.ShakeSum256(out, data)
	return out
}
