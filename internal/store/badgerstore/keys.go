package badgerstore

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/starford/fraudlink/internal/checksum"
)

// Key prefixes. Node ids are 8-byte big endian so prefix scans return them in
// ascending numeric order.
const (
	prefixNode     = byte(0x01) // node:id -> JSON(MatchNode)
	prefixIdentity = byte(0x02) // identity:checksum.Identity(matcher, value) -> id
	prefixLink     = byte(0x03) // link:id:txID -> created_at
	prefixTxIndex  = byte(0x04) // tx:len(txID):txID:id -> empty
	prefixSequence = byte(0x05)
)

func nodeKey(id uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixNode
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

func identityKey(matcher, value string) []byte {
	sum := checksum.Identity(matcher, value)
	return append([]byte{prefixIdentity}, sum[:]...)
}

func linkPrefix(id uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixLink
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

func linkKey(id uint64, txID string) []byte {
	return append(linkPrefix(id), txID...)
}

// txPrefix length-prefixes txID so no id can be a prefix of another's scan.
func txPrefix(txID string) []byte {
	key := make([]byte, 5, 5+len(txID)+8)
	key[0] = prefixTxIndex
	binary.BigEndian.PutUint32(key[1:], uint32(len(txID)))
	return append(key, txID...)
}

func txIndexKey(txID string, id uint64) []byte {
	return binary.BigEndian.AppendUint64(txPrefix(txID), id)
}

func encodeID(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func decodeID(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("badger: short node id (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint64(b[len(b)-8:]), nil
}

func formatNodeID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func parseNodeID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("badger: invalid node id %q: %w", s, err)
	}
	return id, nil
}
