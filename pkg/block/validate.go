package block

import (
	"time"

	"github.com/mikan-network/mikan-node/pkg/blob"
)

// MaxClockDrift bounds how far a block's timestamp may diverge from the
// validator's wall clock.
const MaxClockDrift = 600 * time.Second

// IsValid checks, in order, every structural and data-availability
// invariant a block must hold relative to its predecessor, returning false
// on the first mismatch.
func (b Block) IsValid(committer blob.Committer, expectedHeight uint64, prev Block, now time.Time) bool {
	if b.Header.ParentHash != prev.Header.BlockHash {
		return false
	}
	if uint64(b.Header.BlockNumber) != expectedHeight {
		return false
	}
	if b.Header.Timestamp < prev.Header.Timestamp {
		return false
	}
	ts := time.Unix(int64(b.Header.Timestamp), 0)
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > MaxClockDrift {
		return false
	}

	blobs := b.Blobs()
	if merkleDataHash(blobs) != b.Header.DataHash {
		return false
	}

	commitments, err := commitBlobs(committer, blobs)
	if err != nil {
		return false
	}
	var expected [blob.BlobsPerBlock]blob.Commitment
	copy(expected[:], commitments)
	if expected != b.Header.DACommitment {
		return false
	}

	if computeBlockHash(&b.Header) != b.Header.BlockHash {
		return false
	}
	return true
}
