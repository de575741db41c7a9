// Package checksum derives stable digests for match identities and queue envelopes.
package checksum

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Identity returns the SHA-256 digest of a (matcher, value) pair. The matcher
// is length-prefixed, so no choice of bytes in either field can make two
// distinct pairs encode alike.
func Identity(matcher, value string) [sha256.Size]byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(matcher)+len(value))
	buf = binary.AppendUvarint(buf, uint64(len(matcher)))
	buf = append(buf, matcher...)
	buf = append(buf, value...)
	return sha256.Sum256(buf)
}

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
