package streaming

import (
	"container/heap"
	"sync"

	"github.com/mikan-network/mikan-node/pkg/types"
)

// ProposalParts is the fully reassembled proposal: ordered chunks plus the
// Init header and Fin signature, ready for signature verification and
// decoding as a Block.
type ProposalParts struct {
	Height    types.Height
	Round     types.Round
	Proposer  types.Address
	Chunks    [][]byte
	Signature []byte
}

// Bytes concatenates the data chunks in sequence order.
func (p ProposalParts) Bytes() []byte {
	total := 0
	for _, c := range p.Chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range p.Chunks {
		out = append(out, c...)
	}
	return out
}

type seqPart struct {
	seq  uint64
	part ProposalPart
}

type partHeap []seqPart

func (h partHeap) Len() int            { return len(h) }
func (h partHeap) Less(i, j int) bool   { return h[i].seq < h[j].seq }
func (h partHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i] }
func (h *partHeap) Push(x interface{})  { *h = append(*h, x.(seqPart)) }
func (h *partHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// partialStream accumulates out-of-order parts for one (peer, stream_id)
// pair until a contiguous Init..Fin run is available.
type partialStream struct {
	nextSeq   uint64
	buffered  partHeap
	seenSeq   map[uint64]struct{}
	sawInit   bool
	abandoned bool

	height   types.Height
	round    types.Round
	proposer types.Address
	chunks   [][]byte
}

type streamKey struct {
	peer     string
	streamID string
}

// Reassembler tracks in-flight proposal streams keyed by (peer, stream_id)
// and reports a completed ProposalParts exactly once per stream.
type Reassembler struct {
	mu       sync.Mutex
	streams  map[streamKey]*partialStream
	finished map[streamKey]struct{}
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		streams:  make(map[streamKey]*partialStream),
		finished: make(map[streamKey]struct{}),
	}
}

// Insert feeds one StreamMessage from fromPeer into the reassembler. It
// returns the completed ProposalParts and true exactly once per stream, when
// the contiguous run from sequence 0 contains an Init part followed by Data
// parts and terminated by Fin.
func (r *Reassembler) Insert(fromPeer string, msg StreamMessage) (*ProposalParts, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := streamKey{peer: fromPeer, streamID: string(msg.StreamID)}
	if _, done := r.finished[key]; done {
		return nil, false
	}

	ps, ok := r.streams[key]
	if !ok {
		ps = &partialStream{seenSeq: make(map[uint64]struct{})}
		r.streams[key] = ps
	}
	if ps.abandoned {
		return nil, false
	}

	if _, dup := ps.seenSeq[msg.Sequence]; dup {
		return nil, false
	}
	ps.seenSeq[msg.Sequence] = struct{}{}
	heap.Push(&ps.buffered, seqPart{seq: msg.Sequence, part: msg.Part})

	for len(ps.buffered) > 0 && ps.buffered[0].seq == ps.nextSeq {
		sp := heap.Pop(&ps.buffered).(seqPart)
		ps.nextSeq++

		switch sp.part.Kind {
		case PartInit:
			if ps.nextSeq != 1 {
				ps.abandoned = true
				delete(r.streams, key)
				return nil, false
			}
			ps.sawInit = true
			ps.height = sp.part.Height
			ps.round = sp.part.Round
			ps.proposer = sp.part.Proposer
		case PartData:
			if !ps.sawInit {
				ps.abandoned = true
				delete(r.streams, key)
				return nil, false
			}
			ps.chunks = append(ps.chunks, sp.part.Chunk)
		case PartFin:
			if !ps.sawInit {
				ps.abandoned = true
				delete(r.streams, key)
				return nil, false
			}
			result := &ProposalParts{
				Height:    ps.height,
				Round:     ps.round,
				Proposer:  ps.proposer,
				Chunks:    ps.chunks,
				Signature: sp.part.Signature,
			}
			delete(r.streams, key)
			r.finished[key] = struct{}{}
			return result, true
		}
	}

	return nil, false
}

// EvictBelow drops every in-flight stream whose Init height is below
// minHeight, per the height-pruning lifetime policy: there
// is no per-stream timeout, so streams are reclaimed only as the chain
// advances.
func (r *Reassembler) EvictBelow(minHeight types.Height) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, ps := range r.streams {
		if ps.sawInit && ps.height < minHeight {
			delete(r.streams, k)
		}
	}
	// Finished-stream markers carry no height; they are bounded in number
	// by active peer*stream-id churn and cleared wholesale on restart, so
	// leaving them is acceptable within one process lifetime.
}
