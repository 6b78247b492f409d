package app

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/block"
	vcrypto "github.com/mikan-network/mikan-node/pkg/crypto"
	"github.com/mikan-network/mikan-node/pkg/store"
	"github.com/mikan-network/mikan-node/pkg/streaming"
	"github.com/mikan-network/mikan-node/pkg/txpool"
	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/validator"
	"github.com/mikan-network/mikan-node/pkg/value"
)

// recordingPublisher captures every published StreamMessage in order,
// standing in for the engine's outbound transport.
type recordingPublisher struct {
	sent []streaming.StreamMessage
}

func (p *recordingPublisher) PublishProposalPart(m streaming.StreamMessage) error {
	p.sent = append(p.sent, m)
	return nil
}

func newTestLoop(t *testing.T) (*Loop, *recordingPublisher, *vcrypto.ValidatorSigner) {
	t.Helper()
	m := store.NewMetrics(prometheus.NewRegistry())
	s, err := store.Open(t.TempDir(), m)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	async := store.NewAsyncStore(s)

	signer, err := vcrypto.GenerateValidatorKey()
	require.NoError(t, err)

	vset, err := validator.NewSet([]validator.Info{
		{Address: signer.Address(), PublicKey: signer.PublicKey(), Power: 1},
	})
	require.NoError(t, err)

	genesis := block.Genesis(blob.HashCommitter{})
	genesisBytes, err := genesis.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, async.StoreDecidedBlockData(types.GenesisHeight, genesisBytes))
	require.NoError(t, async.StoreDecidedValue(
		types.CommitCertificate{Height: types.GenesisHeight, Round: types.NewRound(0), ValueId: types.ValueIdOf(genesisBytes)},
		types.ValueIdOf(genesisBytes),
	))

	pub := &recordingPublisher{}
	logger := zap.NewNop().Sugar()
	loop := NewLoop(async, txpool.New(), blob.HashCommitter{}, vset, signer, pub, logger, types.Height(1))
	return loop, pub, signer
}

func TestGetValueBuildsAndStreamsProposal(t *testing.T) {
	loop, pub, _ := newTestLoop(t)

	reply := make(chan *value.ProposedValue, 1)
	loop.dispatch(GetValue{Height: types.Height(1), Round: types.NewRound(0), Reply: reply})

	pv := <-reply
	require.NotNil(t, pv)
	require.Equal(t, types.Height(1), pv.Height)

	require.NotEmpty(t, pub.sent)
	require.Equal(t, streaming.PartInit, pub.sent[0].Part.Kind)
	require.Equal(t, streaming.PartFin, pub.sent[len(pub.sent)-1].Part.Kind)
	for i, m := range pub.sent {
		require.Equal(t, uint64(i), m.Sequence)
	}

	stored, err := loop.store.GetUndecidedProposal(types.Height(1), types.NewRound(0))
	require.NoError(t, err)
	require.Equal(t, pv.Value, stored.Value)
}

func TestReceivedProposalPartReassemblyAcrossNodes(t *testing.T) {
	producer, pub, signer := newTestLoop(t)
	reply := make(chan *value.ProposedValue, 1)
	producer.dispatch(GetValue{Height: types.Height(1), Round: types.NewRound(0), Reply: reply})
	<-reply

	consumer, _, _ := newTestLoop(t)
	consumer.validators = producer.validators // share the validator set / key

	var got *value.ProposedValue
	// Deliver out of order: last, first, then the rest in order.
	order := append([]int{len(pub.sent) - 1, 0}, seqRange(1, len(pub.sent)-1)...)
	for _, idx := range order {
		r := make(chan *value.ProposedValue, 1)
		consumer.dispatch(ReceivedProposalPart{From: "peer1", Part: pub.sent[idx], Reply: r})
		if v := <-r; v != nil {
			got = v
		}
	}

	require.NotNil(t, got)
	require.Equal(t, types.Height(1), got.Height)
	require.Equal(t, signer.Address(), got.Proposer)
}

func TestReceivedProposalPartRejectsBadSignature(t *testing.T) {
	producer, pub, _ := newTestLoop(t)
	reply := make(chan *value.ProposedValue, 1)
	producer.dispatch(GetValue{Height: types.Height(1), Round: types.NewRound(0), Reply: reply})
	<-reply

	tampered := append([]streaming.StreamMessage(nil), pub.sent...)
	last := tampered[len(tampered)-1]
	badSig := append([]byte(nil), last.Part.Signature...)
	badSig[0] ^= 0xFF
	last.Part.Signature = badSig
	tampered[len(tampered)-1] = last

	consumer, _, _ := newTestLoop(t)
	consumer.validators = producer.validators

	var got *value.ProposedValue
	for _, m := range tampered {
		r := make(chan *value.ProposedValue, 1)
		consumer.dispatch(ReceivedProposalPart{From: "peer1", Part: m, Reply: r})
		if v := <-r; v != nil {
			got = v
		}
	}
	require.Nil(t, got)
}

func TestDecidedMovesUndecidedToDecided(t *testing.T) {
	loop, _, _ := newTestLoop(t)
	reply := make(chan *value.ProposedValue, 1)
	loop.dispatch(GetValue{Height: types.Height(1), Round: types.NewRound(0), Reply: reply})
	pv := <-reply

	decidedReply := make(chan DecidedReply, 1)
	cert := types.CommitCertificate{Height: types.Height(1), Round: types.NewRound(0), ValueId: pv.Value, AggregatedSignature: []byte("quorum-cert")}
	loop.dispatch(Decided{Certificate: cert, Reply: decidedReply})

	res := <-decidedReply
	require.Equal(t, types.Height(2), res.NextHeight)

	_, gotCert, err := loop.store.GetDecidedValue(types.Height(1))
	require.NoError(t, err)
	require.Equal(t, cert.AggregatedSignature, gotCert.AggregatedSignature)

	_, err = loop.store.GetDecidedBlock(types.Height(1))
	require.NoError(t, err)
}

func seqRange(start, end int) []int {
	out := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}
