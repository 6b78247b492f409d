// Package block implements the DA chain's Block and BlockHeader: Merkle
// commitment over blob hashes, per-blob FRI commitments, and the chained
// SHA3-256 block hash, plus the canonical binary wire/storage encoding.
package block

import (
	"encoding/binary"

	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/types"
	"golang.org/x/crypto/sha3"
)

// Header carries every field of a block except its transaction list.
type Header struct {
	BlockNumber     types.Height
	Timestamp       uint64 // unix seconds
	ParentHash      [32]byte
	DataHash        [32]byte
	DACommitment    [blob.BlobsPerBlock]blob.Commitment
	ProposerAddress types.Address
	BlockHash       [32]byte
}

// computeBlockHash chains a block to its parent:
// block_hash = SHA3-256(block_number_le_bytes || parent_hash || data_hash || proposer_address)
func computeBlockHash(h *Header) [32]byte {
	buf := make([]byte, 0, 8+32+32+20)
	var numBuf [8]byte
	binary.LittleEndian.PutUint64(numBuf[:], uint64(h.BlockNumber))
	buf = append(buf, numBuf[:]...)
	buf = append(buf, h.ParentHash[:]...)
	buf = append(buf, h.DataHash[:]...)
	buf = append(buf, h.ProposerAddress[:]...)
	return sha3.Sum256(buf)
}
