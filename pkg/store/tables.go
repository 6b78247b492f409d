package store

import (
	"encoding/binary"

	"github.com/mikan-network/mikan-node/pkg/types"
)

// Table key prefixes. Keys are a single-byte prefix followed by packed
// big-endian fixed-width integers, one prefix per logical table.
const (
	prefixDecidedValue byte = 'd'
	prefixCertificate  byte = 'c'
	prefixUndecided    byte = 'u'
	prefixDecidedData  byte = 'D'
	prefixUndecidedData byte = 'U'
)

func heightKey(prefix byte, h types.Height) []byte {
	buf := make([]byte, 9)
	buf[0] = prefix
	binary.BigEndian.PutUint64(buf[1:], uint64(h))
	return buf
}

func heightRoundKey(prefix byte, h types.Height, r types.Round) []byte {
	buf := make([]byte, 13)
	buf[0] = prefix
	binary.BigEndian.PutUint64(buf[1:9], uint64(h))
	var roundNum uint32
	if !r.IsNil() {
		roundNum = uint32(r.Num())
	}
	binary.BigEndian.PutUint32(buf[9:], roundNum)
	return buf
}

func heightFromKey(key []byte) types.Height {
	return types.Height(binary.BigEndian.Uint64(key[1:9]))
}

// heightPrefixUpperBound returns the smallest key strictly greater than every key
// with this prefix and height < h, for use as a pebble iterator bound when
// scanning "everything below h".
func heightPrefixUpperBound(prefix byte, h types.Height) []byte {
	return heightKey(prefix, h)
}
