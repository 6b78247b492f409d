package streaming

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikan-network/mikan-node/pkg/types"
)

func buildStream(height types.Height, round types.Round, proposer types.Address, chunks [][]byte, sig []byte) []ProposalPart {
	parts := make([]ProposalPart, 0, len(chunks)+2)
	parts = append(parts, ProposalPart{Kind: PartInit, Height: height, Round: round, Proposer: proposer})
	for _, c := range chunks {
		parts = append(parts, ProposalPart{Kind: PartData, Chunk: c})
	}
	parts = append(parts, ProposalPart{Kind: PartFin, Signature: sig})
	return parts
}

func TestReassemblerInOrder(t *testing.T) {
	r := NewReassembler()
	var proposer types.Address
	copy(proposer[:], []byte("proposer"))
	sig := []byte("fin-signature")
	chunks := [][]byte{[]byte("chunk-a"), []byte("chunk-b"), []byte("chunk-c")}
	parts := buildStream(types.Height(5), types.NewRound(0), proposer, chunks, sig)

	var result *ProposalParts
	for i, p := range parts {
		res, done := r.Insert("peer1", StreamMessage{StreamID: []byte("s1"), Sequence: uint64(i), Part: p})
		if done {
			result = res
		}
	}
	require.NotNil(t, result)
	require.Equal(t, types.Height(5), result.Height)
	require.Equal(t, chunks, result.Chunks)
	require.Equal(t, sig, result.Signature)
}

func TestReassemblerOutOfOrder(t *testing.T) {
	r := NewReassembler()
	var proposer types.Address
	copy(proposer[:], []byte("proposer"))
	sig := []byte("fin-signature")
	chunks := [][]byte{[]byte("c0"), []byte("c1"), []byte("c2")}
	parts := buildStream(types.Height(7), types.NewRound(1), proposer, chunks, sig)

	order := []int{4, 0, 2, 1, 3}
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var result *ProposalParts
	completions := 0
	for _, idx := range order {
		res, done := r.Insert("peer1", StreamMessage{StreamID: []byte("s2"), Sequence: uint64(idx), Part: parts[idx]})
		if done {
			completions++
			result = res
		}
	}
	require.Equal(t, 1, completions)
	require.NotNil(t, result)
	require.Equal(t, chunks, result.Chunks)
}

func TestReassemblerDuplicateFinIgnored(t *testing.T) {
	r := NewReassembler()
	var proposer types.Address
	parts := buildStream(types.Height(1), types.NewRound(0), proposer, nil, []byte("sig"))

	completions := 0
	for _, p := range parts {
		for rep := 0; rep < 2; rep++ {
			_, done := r.Insert("peer1", StreamMessage{StreamID: []byte("s3"), Sequence: uint64(seqOf(parts, p)), Part: p})
			if done {
				completions++
			}
		}
	}
	require.Equal(t, 1, completions)
}

func seqOf(parts []ProposalPart, target ProposalPart) int {
	for i, p := range parts {
		if p.Kind == target.Kind {
			return i
		}
	}
	return -1
}

func TestReassemblerAbandonsNonInitFirst(t *testing.T) {
	r := NewReassembler()
	_, done := r.Insert("peer1", StreamMessage{StreamID: []byte("s4"), Sequence: 0, Part: ProposalPart{Kind: PartData, Chunk: []byte("x")}})
	require.False(t, done)

	// A subsequent Init at sequence 1 can never complete the (abandoned)
	// contiguous run starting at 0; the stream stays incomplete.
	_, done = r.Insert("peer1", StreamMessage{StreamID: []byte("s4"), Sequence: 1, Part: ProposalPart{Kind: PartInit, Height: types.Height(1)}})
	require.False(t, done)
}

func TestReassemblerDistinctPeersIndependent(t *testing.T) {
	r := NewReassembler()
	var proposer types.Address
	parts := buildStream(types.Height(2), types.NewRound(0), proposer, [][]byte{[]byte("x")}, []byte("sig"))

	for i, p := range parts {
		_, done := r.Insert("peerA", StreamMessage{StreamID: []byte("shared"), Sequence: uint64(i), Part: p})
		if i < len(parts)-1 {
			require.False(t, done)
		}
	}
	for i, p := range parts {
		_, done := r.Insert("peerB", StreamMessage{StreamID: []byte("shared"), Sequence: uint64(i), Part: p})
		if i == len(parts)-1 {
			require.True(t, done)
		}
	}
}

func TestReassemblerEvictBelow(t *testing.T) {
	r := NewReassembler()
	var proposer types.Address
	r.Insert("peer1", StreamMessage{StreamID: []byte("old"), Sequence: 0, Part: ProposalPart{Kind: PartInit, Height: types.Height(1), Proposer: proposer}})
	r.Insert("peer1", StreamMessage{StreamID: []byte("new"), Sequence: 0, Part: ProposalPart{Kind: PartInit, Height: types.Height(100), Proposer: proposer}})

	require.Len(t, r.streams, 2)
	r.EvictBelow(types.Height(50))
	require.Len(t, r.streams, 1)
}
