package api

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/block"
	"github.com/mikan-network/mikan-node/pkg/store"
	"github.com/mikan-network/mikan-node/pkg/txpool"
	"github.com/mikan-network/mikan-node/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	m := store.NewMetrics(prometheus.NewRegistry())
	s, err := store.Open(t.TempDir(), m)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	async := store.NewAsyncStore(s)

	committer := blob.HashCommitter{}
	genesis := block.Genesis(committer)
	genesisBytes, err := genesis.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, async.StoreDecidedBlockData(types.GenesisHeight, genesisBytes))
	require.NoError(t, async.StoreDecidedValue(
		types.CommitCertificate{Height: types.GenesisHeight, ValueId: types.ValueIdOf(genesisBytes)},
		types.ValueIdOf(genesisBytes),
	))

	return NewServer(txpool.New(), async, committer, zap.NewNop().Sugar())
}

func rpcCall(t *testing.T, s *Server, method string, params []interface{}) rpcResponse {
	t.Helper()
	req := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	s.handleRPC(w, r)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestBlockNumberReflectsGenesis(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "mikan_blockNumber", nil)
	require.Nil(t, resp.Error)
	require.Equal(t, float64(0), resp.Result)
}

func TestSendTransactionAcceptsSignedTransaction(t *testing.T) {
	s := newTestServer(t)

	fromPub, fromPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	toPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var blobs [4]blob.Blob
	for i := range blobs {
		raw := make([]byte, blob.BlobSize)
		blobs[i] = raw
	}
	unsigned, err := txpool.NewTransaction(fromPub, toPub, 100, blobs, 1, 10, fromPriv)
	require.NoError(t, err)

	param := transactionParam{
		From:      hex.EncodeToString(fromPub),
		To:        hex.EncodeToString(toPub),
		Signature: hex.EncodeToString(unsigned.Signature),
		Value:     100,
		Nonce:     1,
		GasPrice:  10,
		Data:      make([]string, 4),
	}
	for i, b := range blobs {
		param.Data[i] = hex.EncodeToString(b)
	}

	resp := rpcCall(t, s, "mikan_sendTransaction", []interface{}{param})
	require.Nil(t, resp.Error)
	require.NotEmpty(t, resp.Result)
}

func TestGetBlobRejectsOutOfRangeIndex(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "mikan_getBlob", []interface{}{getBlobParam{Height: 0, BlobIndex: 0}})
	require.NotNil(t, resp.Error)
}
