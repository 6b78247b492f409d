package refengine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikan-network/mikan-node/pkg/app"
	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/block"
	vcrypto "github.com/mikan-network/mikan-node/pkg/crypto"
	"github.com/mikan-network/mikan-node/pkg/store"
	"github.com/mikan-network/mikan-node/pkg/streaming"
	"github.com/mikan-network/mikan-node/pkg/txpool"
	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/validator"
)

type discardPublisher struct{}

func (discardPublisher) PublishProposalPart(streaming.StreamMessage) error { return nil }

func TestRefengineAdvancesSeveralHeights(t *testing.T) {
	m := store.NewMetrics(prometheus.NewRegistry())
	s, err := store.Open(t.TempDir(), m)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	async := store.NewAsyncStore(s)

	signer, err := vcrypto.GenerateValidatorKey()
	require.NoError(t, err)
	vset, err := validator.NewSet([]validator.Info{{Address: signer.Address(), PublicKey: signer.PublicKey(), Power: 1}})
	require.NoError(t, err)

	genesis := block.Genesis(blob.HashCommitter{})
	genesisBytes, err := genesis.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, async.StoreDecidedBlockData(types.GenesisHeight, genesisBytes))
	require.NoError(t, async.StoreDecidedValue(
		types.CommitCertificate{Height: types.GenesisHeight, ValueId: types.ValueIdOf(genesisBytes)},
		types.ValueIdOf(genesisBytes),
	))

	logger := zap.NewNop().Sugar()
	loop := app.NewLoop(async, txpool.New(), blob.HashCommitter{}, vset, signer, discardPublisher{}, logger, types.Height(1))

	eng := New(logger)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	loopErrCh := make(chan error, 1)
	go func() { loopErrCh <- loop.Run(eng.Inbound()) }()

	engErrCh := make(chan error, 1)
	go func() { engErrCh <- eng.Run(ctx) }()

	<-ctx.Done()
	require.ErrorIs(t, <-engErrCh, context.DeadlineExceeded)
	<-loopErrCh

	h, ok := async.MinDecidedValueHeight()
	require.True(t, ok)
	require.Equal(t, types.GenesisHeight, h)

	_, _, err = async.GetDecidedValue(types.Height(1))
	require.NoError(t, err)
}
