package block

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/txpool"
	"github.com/mikan-network/mikan-node/pkg/types"
)

func fullBlob(t *testing.T, fill byte) blob.Blob {
	t.Helper()
	raw := make([]byte, blob.BlobSize)
	for i := range raw {
		raw[i] = fill
	}
	b, err := blob.New(raw)
	require.NoError(t, err)
	return b
}

func newTestTx(t *testing.T, gasPrice uint64, fill byte) *txpool.Transaction {
	t.Helper()
	senderPub, senderPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	recipientPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	blobs := [4]blob.Blob{
		fullBlob(t, fill), fullBlob(t, fill+1), fullBlob(t, fill+2), fullBlob(t, fill+3),
	}
	tx, err := txpool.NewTransaction(senderPub, recipientPub, 1, blobs, 0, gasPrice, senderPriv)
	require.NoError(t, err)
	return tx
}

func TestNewZeroBlobs(t *testing.T) {
	b, err := New(blob.HashCommitter{}, types.Height(1), time.Unix(100, 0).UTC(), [32]byte{1}, types.Address{2}, nil)
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, b.Header.DataHash)
	require.Equal(t, uint64(1), uint64(b.Header.BlockNumber))
	require.Equal(t, computeBlockHash(&b.Header), b.Header.BlockHash)
}

func TestNewOneTransactionMatchesMerkleDataHash(t *testing.T) {
	tx := newTestTx(t, 10, 0)
	b, err := New(blob.HashCommitter{}, types.Height(2), time.Unix(200, 0).UTC(), [32]byte{3}, types.Address{4}, []*txpool.Transaction{tx})
	require.NoError(t, err)
	require.Equal(t, merkleDataHash(tx.FlattenBlobs()), b.Header.DataHash)
	require.NotEqual(t, [32]byte{}, b.Header.DataHash)
}

func TestNewManyBlobsUsesMerkleRoot(t *testing.T) {
	tx1 := newTestTx(t, 10, 0)
	tx2 := newTestTx(t, 20, 10)
	b, err := New(blob.HashCommitter{}, types.Height(3), time.Unix(300, 0).UTC(), [32]byte{5}, types.Address{6}, []*txpool.Transaction{tx1, tx2})
	require.NoError(t, err)

	allBlobs := append(append([]blob.Blob(nil), tx1.FlattenBlobs()...), tx2.FlattenBlobs()...)
	require.Equal(t, merkleDataHash(allBlobs), b.Header.DataHash)

	// Changing the blob order changes the root: the hash is over an
	// ordered sequence, not a set.
	reordered := append(append([]blob.Blob(nil), tx2.FlattenBlobs()...), tx1.FlattenBlobs()...)
	require.NotEqual(t, merkleDataHash(reordered), b.Header.DataHash)
}

func TestGenesis(t *testing.T) {
	g := Genesis(blob.HashCommitter{})
	require.Equal(t, types.GenesisHeight, g.Header.BlockNumber)
	require.Equal(t, [32]byte{}, g.Header.ParentHash)
	require.Equal(t, [32]byte{}, g.Header.DataHash)
	require.Empty(t, g.Transactions)
	require.Equal(t, computeBlockHash(&g.Header), g.Header.BlockHash)
}
