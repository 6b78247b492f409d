package block

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/txpool"
	"github.com/mikan-network/mikan-node/pkg/types"
)

// Block is a header plus its transaction sequence.
type Block struct {
	Header       Header
	Transactions []*txpool.Transaction
}

// New constructs a block and every derived field: blob gathering, the data
// Merkle root, the per-blob FRI commitments (computed in parallel, since
// each blob's commitment is independent of every other), and finally the
// chained block hash.
func New(
	committer blob.Committer,
	height types.Height,
	timestamp time.Time,
	parentHash [32]byte,
	proposer types.Address,
	txs []*txpool.Transaction,
) (Block, error) {
	blobs := gatherBlobs(txs)

	dataHash := merkleDataHash(blobs)

	commitments, err := commitBlobs(committer, blobs)
	if err != nil {
		return Block{}, err
	}

	h := Header{
		BlockNumber:     height,
		Timestamp:       uint64(timestamp.Unix()),
		ParentHash:      parentHash,
		DataHash:        dataHash,
		ProposerAddress: proposer,
	}
	copy(h.DACommitment[:], commitments)
	h.BlockHash = computeBlockHash(&h)

	return Block{Header: h, Transactions: txs}, nil
}

// Genesis returns the deterministic genesis block: height 0, a fixed epoch
// timestamp, zeroed parent hash, and no transactions/blobs.
func Genesis(committer blob.Committer) Block {
	b, err := New(committer, types.GenesisHeight, time.Unix(0, 0).UTC(), [32]byte{}, types.Address{}, nil)
	if err != nil {
		// Genesis has zero blobs; committing zero blobs can never fail.
		panic(err)
	}
	return b
}

// Blobs flattens every transaction's blobs in transaction order, the view
// DA sampling queries against.
func (b Block) Blobs() []blob.Blob {
	return gatherBlobs(b.Transactions)
}

func gatherBlobs(txs []*txpool.Transaction) []blob.Blob {
	var out []blob.Blob
	for _, tx := range txs {
		out = append(out, tx.FlattenBlobs()...)
	}
	return out
}

// merkleDataHash summarizes a block's blobs: zero blobs -> zero hash, one
// blob -> its SHA-256, otherwise a standard binary Merkle root over
// per-blob SHA-256 leaves ordered by blob index.
func merkleDataHash(blobs []blob.Blob) [32]byte {
	switch len(blobs) {
	case 0:
		return [32]byte{}
	case 1:
		return sha256.Sum256(blobs[0])
	}
	leaves := make([][32]byte, len(blobs))
	for i, bl := range blobs {
		leaves[i] = sha256.Sum256(bl)
	}
	return dataMerkleRoot(leaves)
}

func dataMerkleRoot(level [][32]byte) [32]byte {
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, hashPair(level[i], level[i]))
			} else {
				next = append(next, hashPair(level[i], level[i+1]))
			}
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return sha256.Sum256(buf)
}

// commitBlobs computes FRI_commit(blob_i, expansion_factor=4) for every
// blob concurrently.
func commitBlobs(committer blob.Committer, blobs []blob.Blob) ([]blob.Commitment, error) {
	out := make([]blob.Commitment, len(blobs))
	if len(blobs) == 0 {
		return out, nil
	}
	var wg sync.WaitGroup
	errs := make([]error, len(blobs))
	for i, bl := range blobs {
		wg.Add(1)
		go func(i int, bl blob.Blob) {
			defer wg.Done()
			c, err := committer.Commit(bl, blob.DefaultParams)
			out[i] = c
			errs[i] = err
		}(i, bl)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
