package block

import (
	"encoding/binary"
	"errors"

	"github.com/mikan-network/mikan-node/pkg/txpool"
	"github.com/mikan-network/mikan-node/pkg/types"
)

// MarshalBinary writes the canonical deterministic block encoding: header
// fields in declared order (block_number little-endian to match the
// block-hash formula, every other fixed-width field big-endian), followed
// by a length-prefixed transaction sequence.
func (b Block) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 256)

	var numBuf [8]byte
	binary.LittleEndian.PutUint64(numBuf[:], uint64(b.Header.BlockNumber))
	buf = append(buf, numBuf[:]...)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], b.Header.Timestamp)
	buf = append(buf, tsBuf[:]...)

	buf = append(buf, b.Header.ParentHash[:]...)
	buf = append(buf, b.Header.DataHash[:]...)
	for _, c := range b.Header.DACommitment {
		buf = append(buf, c[:]...)
	}
	buf = append(buf, b.Header.ProposerAddress[:]...)
	buf = append(buf, b.Header.BlockHash[:]...)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(b.Transactions)))
	buf = append(buf, countBuf[:]...)
	for _, tx := range b.Transactions {
		txBytes, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(txBytes)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, txBytes...)
	}
	return buf, nil
}

var errTruncatedBlock = errors.New("block: truncated encoding")

// UnmarshalBinary decodes a block previously produced by MarshalBinary. It
// does not revalidate the block; callers call IsValid separately.
func UnmarshalBinary(data []byte) (Block, error) {
	const headerFixedLen = 8 + 8 + 32 + 32 + 4*32 + 20 + 32
	if len(data) < headerFixedLen+4 {
		return Block{}, errTruncatedBlock
	}
	off := 0
	var h Header
	h.BlockNumber = types.Height(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	h.Timestamp = binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	copy(h.ParentHash[:], data[off:off+32])
	off += 32
	copy(h.DataHash[:], data[off:off+32])
	off += 32
	for i := range h.DACommitment {
		copy(h.DACommitment[i][:], data[off:off+32])
		off += 32
	}
	copy(h.ProposerAddress[:], data[off:off+20])
	off += 20
	copy(h.BlockHash[:], data[off:off+32])
	off += 32

	count := binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	txs := make([]*txpool.Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data)-off < 4 {
			return Block{}, errTruncatedBlock
		}
		n := binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		if len(data)-off < int(n) {
			return Block{}, errTruncatedBlock
		}
		tx := &txpool.Transaction{}
		if err := tx.UnmarshalBinary(data[off : off+int(n)]); err != nil {
			return Block{}, err
		}
		off += int(n)
		txs = append(txs, tx)
	}

	return Block{Header: h, Transactions: txs}, nil
}
