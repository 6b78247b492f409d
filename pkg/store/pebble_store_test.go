package store

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/value"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	s, err := Open(t.TempDir(), m)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreDecidedValueRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cert := types.CommitCertificate{
		Height:              types.Height(5),
		Round:               types.NewRound(2),
		ValueId:             types.ValueId(0xdeadbeef),
		AggregatedSignature: []byte("sig-bytes"),
	}

	require.NoError(t, s.StoreDecidedValue(cert, cert.ValueId))

	vid, got, err := s.GetDecidedValue(types.Height(5))
	require.NoError(t, err)
	require.Equal(t, cert.ValueId, vid)
	require.Equal(t, cert, got)
}

func TestGetDecidedValueNotFound(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetDecidedValue(types.Height(1))
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestUndecidedProposalFirstWriteWins(t *testing.T) {
	s := newTestStore(t)
	h, r := types.Height(3), types.NewRound(0)
	first := value.ProposedValue{Height: h, Round: r, ValidRound: types.NilRound, Value: types.ValueId(1), Validity: value.Valid}
	second := value.ProposedValue{Height: h, Round: r, ValidRound: types.NilRound, Value: types.ValueId(2), Validity: value.Valid}

	require.NoError(t, s.StoreUndecidedProposal(first))
	require.NoError(t, s.StoreUndecidedProposal(second))

	got, err := s.GetUndecidedProposal(h, r)
	require.NoError(t, err)
	require.Equal(t, types.ValueId(1), got.Value)
}

func TestGetBlockDataPrefersUndecided(t *testing.T) {
	s := newTestStore(t)
	h, r := types.Height(7), types.NewRound(1)
	require.NoError(t, s.StoreUndecidedBlockData(h, r, []byte("undecided-bytes")))
	require.NoError(t, s.StoreDecidedBlockData(h, []byte("decided-bytes")))

	data, err := s.GetBlockData(h, r)
	require.NoError(t, err)
	require.Equal(t, []byte("undecided-bytes"), data)

	block, err := s.GetDecidedBlock(h)
	require.NoError(t, err)
	require.Equal(t, []byte("decided-bytes"), block)
}

func TestMinDecidedValueHeight(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.MinDecidedValueHeight()
	require.False(t, ok)

	for _, h := range []uint64{10, 3, 7} {
		cert := types.CommitCertificate{Height: types.Height(h), Round: types.NewRound(0), ValueId: types.ValueId(h)}
		require.NoError(t, s.StoreDecidedValue(cert, cert.ValueId))
	}

	min, ok := s.MinDecidedValueHeight()
	require.True(t, ok)
	require.Equal(t, types.Height(3), min)
}

func TestPruneRemovesBelowRetainHeight(t *testing.T) {
	s := newTestStore(t)
	for h := uint64(1); h <= 5; h++ {
		cert := types.CommitCertificate{Height: types.Height(h), Round: types.NewRound(0), ValueId: types.ValueId(h)}
		require.NoError(t, s.StoreDecidedValue(cert, cert.ValueId))
		require.NoError(t, s.StoreDecidedBlockData(types.Height(h), []byte("block")))
	}

	removed, err := s.Prune(types.Height(4))
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	_, _, err = s.GetDecidedValue(types.Height(3))
	require.True(t, IsNotFound(err))
	_, _, err = s.GetDecidedValue(types.Height(4))
	require.NoError(t, err)
}

func TestProposedValueCodecRoundTrip(t *testing.T) {
	var proposer types.Address
	copy(proposer[:], []byte("12345678901234567890"))
	p := value.ProposedValue{
		Height:     types.Height(42),
		Round:      types.NewRound(3),
		ValidRound: types.NewRound(1),
		Proposer:   proposer,
		Value:      types.ValueId(9876),
		Validity:   value.Valid,
	}
	encoded := encodeProposedValue(p)
	decoded, err := decodeProposedValue(encoded)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}
