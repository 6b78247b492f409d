package block

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/types"
)

func buildChain(t *testing.T) (genesis, prev, cur Block) {
	t.Helper()
	committer := blob.HashCommitter{}
	genesis = Genesis(committer)

	var err error
	prev, err = New(committer, types.Height(1), time.Unix(1000, 0).UTC(), genesis.Header.BlockHash, types.Address{1}, nil)
	require.NoError(t, err)

	cur, err = New(committer, types.Height(2), time.Unix(1010, 0).UTC(), prev.Header.BlockHash, types.Address{2}, nil)
	require.NoError(t, err)
	return genesis, prev, cur
}

func TestIsValidAccepts(t *testing.T) {
	_, prev, cur := buildChain(t)
	require.True(t, cur.IsValid(blob.HashCommitter{}, 2, prev, time.Unix(1010, 0).UTC()))
}

func TestIsValidRejectsWrongParentHash(t *testing.T) {
	_, prev, cur := buildChain(t)
	cur.Header.ParentHash[0] ^= 0xFF
	require.False(t, cur.IsValid(blob.HashCommitter{}, 2, prev, time.Unix(1010, 0).UTC()))
}

func TestIsValidRejectsWrongHeight(t *testing.T) {
	_, prev, cur := buildChain(t)
	require.False(t, cur.IsValid(blob.HashCommitter{}, 3, prev, time.Unix(1010, 0).UTC()))
}

// TestIsValidRejectsNonMonotonicTimestamp covers the non-monotonic-vs-parent
// half of the S4 timestamp scenario: a timestamp older than the parent's
// must be rejected before the clock-drift check even runs.
func TestIsValidRejectsNonMonotonicTimestamp(t *testing.T) {
	committer := blob.HashCommitter{}
	_, prev, _ := buildChain(t)

	stale, err := New(committer, types.Height(2), time.Unix(999, 0).UTC(), prev.Header.BlockHash, types.Address{2}, nil)
	require.NoError(t, err)

	require.False(t, stale.IsValid(committer, 2, prev, time.Unix(999, 0).UTC()))
}

// TestIsValidRejectsFutureClockDrift covers the future-clock-drift half of
// the S4 scenario: a timestamp that is monotonic vs the parent but too far
// ahead of the validator's own wall clock must still be rejected.
func TestIsValidRejectsFutureClockDrift(t *testing.T) {
	committer := blob.HashCommitter{}
	_, prev, _ := buildChain(t)

	future, err := New(committer, types.Height(2), time.Unix(1000, 0).Add(MaxClockDrift*2).UTC(), prev.Header.BlockHash, types.Address{2}, nil)
	require.NoError(t, err)

	require.False(t, future.IsValid(committer, 2, prev, time.Unix(1000, 0).UTC()))
}

func TestIsValidRejectsTamperedTransactions(t *testing.T) {
	committer := blob.HashCommitter{}
	_, prev, cur := buildChain(t)
	cur.Transactions = append(cur.Transactions, newTestTx(t, 1, 0))
	require.False(t, cur.IsValid(committer, 2, prev, time.Unix(1010, 0).UTC()))
}

func TestIsValidRejectsTamperedBlockHash(t *testing.T) {
	committer := blob.HashCommitter{}
	_, prev, cur := buildChain(t)
	cur.Header.BlockHash[0] ^= 0xFF
	require.False(t, cur.IsValid(committer, 2, prev, time.Unix(1010, 0).UTC()))
}
