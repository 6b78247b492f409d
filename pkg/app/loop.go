package app

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/block"
	vcrypto "github.com/mikan-network/mikan-node/pkg/crypto"
	"github.com/mikan-network/mikan-node/pkg/store"
	"github.com/mikan-network/mikan-node/pkg/streaming"
	"github.com/mikan-network/mikan-node/pkg/txpool"
	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/util"
	"github.com/mikan-network/mikan-node/pkg/validator"
	"github.com/mikan-network/mikan-node/pkg/value"
)

// ChunkSize is the size of each Data part's payload when streaming a
// proposal.
const ChunkSize = 128 * 1024

// MaxHistoryLength is the retain window: undecided and decided history
// below current_height - MaxHistoryLength is pruned on every Decided event.
const MaxHistoryLength = 25

// Publisher disseminates an outbound StreamMessage to peers; implemented by
// whatever transport sits behind the engine's outbound channel half.
type Publisher interface {
	PublishProposalPart(streaming.StreamMessage) error
}

// NewHeadsNotifier receives one call each time Decided advances
// current_height, purely additive for the RPC service's websocket feed. It
// carries no invariant the state machine depends on: a nil notifier is the
// default and every call site treats a non-nil one as best-effort.
type NewHeadsNotifier interface {
	NotifyNewHead(height types.Height, blockHash [32]byte)
}

// Loop is the single-threaded cooperative state machine servicing the
// consensus engine's inbound channel: it supplies proposals, ingests
// streamed parts, commits certificates, and answers sync/peer queries.
type Loop struct {
	store      *store.AsyncStore
	pool       *txpool.Pool
	reasm      *streaming.Reassembler
	committer  blob.Committer
	validators *validator.Set
	signer     *vcrypto.ValidatorSigner
	publisher  Publisher
	heads      NewHeadsNotifier
	clock      util.Clock
	log        *zap.SugaredLogger

	currentHeight types.Height
	currentRound  types.Round
	peers         map[string]struct{}

	streamNonce uint64
}

// NewLoop constructs a Loop ready to run from genesis or a restored height.
func NewLoop(
	st *store.AsyncStore,
	pool *txpool.Pool,
	committer blob.Committer,
	validators *validator.Set,
	signer *vcrypto.ValidatorSigner,
	publisher Publisher,
	log *zap.SugaredLogger,
	startHeight types.Height,
) *Loop {
	return &Loop{
		store:         st,
		pool:          pool,
		reasm:         streaming.NewReassembler(),
		committer:     committer,
		validators:    validators,
		signer:        signer,
		publisher:     publisher,
		clock:         util.RealClock{},
		log:           log,
		currentHeight: startHeight,
		currentRound:  types.NewRound(0),
		peers:         make(map[string]struct{}),
	}
}

// SetNewHeadsNotifier wires the optional new-heads notification sink. It is
// not part of NewLoop's constructor signature because it is an additive
// RPC-layer concern wired after construction, not a requirement of the
// state machine itself.
func (l *Loop) SetNewHeadsNotifier(n NewHeadsNotifier) {
	l.heads = n
}

// SetClock overrides the wall clock used by onGetValue/onReceivedProposalPart,
// for tests exercising timestamp-window behavior deterministically.
func (l *Loop) SetClock(c util.Clock) {
	l.clock = c
}

// Run drains inbound until the channel closes, which is treated as fatal:
// the consensus engine has died and the node cannot continue.
func (l *Loop) Run(inbound <-chan Message) error {
	for msg := range inbound {
		l.dispatch(msg)
	}
	return fmt.Errorf("app: consensus engine channel closed")
}

func (l *Loop) dispatch(msg Message) {
	switch m := msg.(type) {
	case ConsensusReady:
		m.Reply <- ConsensusReadyReply{Height: l.currentHeight, ValidatorSet: l.validators.All()}
	case StartedRound:
		l.onStartedRound(m)
	case GetValue:
		l.onGetValue(m)
	case ReceivedProposalPart:
		l.onReceivedProposalPart(m)
	case GetValidatorSet:
		m.Reply <- l.validators.All()
	case Decided:
		l.onDecided(m)
	case ProcessSyncedValue:
		l.onProcessSyncedValue(m)
	case GetDecidedValue:
		l.onGetDecidedValue(m)
	case GetHistoryMinHeight:
		l.onGetHistoryMinHeight(m)
	case PeerJoined:
		l.peers[m.Peer] = struct{}{}
	case PeerLeft:
		delete(l.peers, m.Peer)
	case ExtendVote:
		m.Reply <- nil
	case VerifyVoteExtension:
		m.Reply <- true
	default:
		l.log.Errorw("unknown_app_message", "type", fmt.Sprintf("%T", msg))
	}
}

func (l *Loop) onStartedRound(m StartedRound) {
	l.currentHeight = m.Height
	l.currentRound = m.Round

	p, err := l.store.GetUndecidedProposal(m.Height, m.Round)
	if err != nil {
		m.Reply <- nil
		return
	}
	m.Reply <- &p
}

func (l *Loop) onGetValue(m GetValue) {
	prevBytes, err := l.store.GetDecidedBlock(m.Height.SubSat(1))
	if err != nil {
		panic(fmt.Sprintf("app: GetValue(%d,%d) requested with no decided block at height-1: %v", m.Height, m.Round, err))
	}
	prev, err := block.UnmarshalBinary(prevBytes)
	if err != nil {
		panic(fmt.Sprintf("app: corrupt decided block at height %d: %v", m.Height.SubSat(1), err))
	}

	tx := l.popValidTransaction(m.Timeout)

	var txs []*txpool.Transaction
	if tx != nil {
		txs = []*txpool.Transaction{tx}
	}

	b, err := block.New(l.committer, m.Height, l.clock.Now().UTC(), prev.Header.BlockHash, l.signer.Address(), txs)
	if err != nil {
		l.log.Errorw("get_value_build_failed", "height", m.Height, "round", m.Round, "err", err)
		m.Reply <- nil
		return
	}

	encoded, err := b.MarshalBinary()
	if err != nil {
		l.log.Errorw("get_value_encode_failed", "height", m.Height, "round", m.Round, "err", err)
		m.Reply <- nil
		return
	}

	pv := value.ProposedValue{
		Height:     m.Height,
		Round:      m.Round,
		ValidRound: types.NilRound,
		Proposer:   l.signer.Address(),
		Value:      types.ValueIdOf(encoded),
		Validity:   value.Valid,
	}

	// Both writes are independent (proposal table, block-data table), so they
	// run concurrently on the worker pool; the reply still waits on both,
	// since a StartedRound for this (height, round) must see them persisted.
	proposalCh := l.store.StoreUndecidedProposalAsync(pv)
	dataCh := l.store.StoreBlockDataAsync(func() error {
		return l.store.StoreUndecidedBlockData(m.Height, m.Round, encoded)
	})
	if err := <-proposalCh; err != nil {
		l.log.Errorw("get_value_store_proposal_failed", "height", m.Height, "round", m.Round, "err", err)
		m.Reply <- nil
		return
	}
	if err := <-dataCh; err != nil {
		l.log.Errorw("get_value_store_data_failed", "height", m.Height, "round", m.Round, "err", err)
		m.Reply <- nil
		return
	}

	m.Reply <- &pv

	if err := l.streamProposal(m.Height, m.Round, encoded); err != nil {
		l.log.Errorw("get_value_stream_failed", "height", m.Height, "round", m.Round, "err", err)
	}
}

// popValidTransaction pops from the pool until a valid transaction is
// found, blocking on the pool's wake-on-add condition variable for up to
// timeout when the pool is momentarily empty, and builds an empty block
// once the deadline passes without one.
func (l *Loop) popValidTransaction(timeout time.Duration) *txpool.Transaction {
	deadline := l.clock.Now().Add(timeout)
	for {
		remaining := deadline.Sub(l.clock.Now())
		tx := l.pool.PopTopWait(remaining)
		if tx == nil {
			return nil
		}
		if tx.Validate() {
			return tx
		}
	}
}

// streamProposal chunks encoded block bytes into Init/Data/Fin parts and
// publishes them in sequence order.
func (l *Loop) streamProposal(h types.Height, r types.Round, encoded []byte) error {
	streamID := newStreamID(h, r, l.nextNonce())

	seq := uint64(0)
	var round uint32
	if !r.IsNil() {
		round = uint32(r.Num())
	}
	init := streaming.ProposalPart{Kind: streaming.PartInit, Height: h, Round: r, Proposer: l.signer.Address()}
	if err := l.publish(streamID, seq, init); err != nil {
		return err
	}
	seq++

	for off := 0; off < len(encoded); off += ChunkSize {
		end := off + ChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		data := streaming.ProposalPart{Kind: streaming.PartData, Chunk: encoded[off:end]}
		if err := l.publish(streamID, seq, data); err != nil {
			return err
		}
		seq++
	}

	sig := l.signer.Sign(finDigest(h, round, encoded))
	fin := streaming.ProposalPart{Kind: streaming.PartFin, Signature: sig}
	return l.publish(streamID, seq, fin)
}

func (l *Loop) publish(streamID []byte, seq uint64, part streaming.ProposalPart) error {
	return l.publisher.PublishProposalPart(streaming.StreamMessage{StreamID: streamID, Sequence: seq, Part: part})
}

func (l *Loop) nextNonce() uint64 {
	l.streamNonce++
	return l.streamNonce
}

func newStreamID(h types.Height, r types.Round, nonce uint64) []byte {
	var round uint32
	if !r.IsNil() {
		round = uint32(r.Num())
	}
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], uint64(h))
	binary.BigEndian.PutUint32(buf[8:12], round)
	binary.BigEndian.PutUint64(buf[12:20], nonce)
	return buf
}

// finDigest is Keccak-256(h || r || concat(chunks)), the message the Fin
// signature signs and that ReceivedProposalPart re-derives to verify it.
func finDigest(h types.Height, r uint32, chunks []byte) []byte {
	state := crypto.NewKeccakState()
	var hBuf [8]byte
	binary.BigEndian.PutUint64(hBuf[:], uint64(h))
	state.Write(hBuf[:])
	var rBuf [4]byte
	binary.BigEndian.PutUint32(rBuf[:], r)
	state.Write(rBuf[:])
	state.Write(chunks)
	var out [32]byte
	state.Read(out[:])
	return out[:]
}

func (l *Loop) onReceivedProposalPart(m ReceivedProposalPart) {
	parts, done := l.reasm.Insert(m.From, m.Part)
	if !done {
		m.Reply <- nil
		return
	}

	var round uint32
	if !parts.Round.IsNil() {
		round = uint32(parts.Round.Num())
	}

	vinfo, ok := l.validators.Get(parts.Proposer)
	if !ok {
		l.log.Errorw("received_proposal_unknown_proposer", "height", parts.Height, "round", parts.Round)
		m.Reply <- nil
		return
	}
	encoded := parts.Bytes()
	digest := finDigest(parts.Height, round, encoded)
	if !vcrypto.VerifyValidatorSignature(vinfo.PublicKey, digest, parts.Signature) {
		l.log.Errorw("received_proposal_bad_signature", "height", parts.Height, "round", parts.Round)
		m.Reply <- nil
		return
	}

	b, err := block.UnmarshalBinary(encoded)
	if err != nil {
		l.log.Errorw("received_proposal_decode_failed", "height", parts.Height, "round", parts.Round, "err", err)
		m.Reply <- nil
		return
	}

	prevBytes, err := l.store.GetDecidedBlock(parts.Height.SubSat(1))
	if err != nil {
		l.log.Errorw("received_proposal_missing_prev", "height", parts.Height, "round", parts.Round, "err", err)
		m.Reply <- nil
		return
	}
	prev, err := block.UnmarshalBinary(prevBytes)
	if err != nil {
		l.log.Errorw("received_proposal_prev_corrupt", "height", parts.Height, "round", parts.Round, "err", err)
		m.Reply <- nil
		return
	}
	if !b.IsValid(l.committer, uint64(parts.Height), prev, l.clock.Now().UTC()) {
		l.log.Errorw("received_proposal_invalid_block", "height", parts.Height, "round", parts.Round)
		m.Reply <- nil
		return
	}

	pv := value.ProposedValue{
		Height:     parts.Height,
		Round:      parts.Round,
		ValidRound: types.NilRound,
		Proposer:   parts.Proposer,
		Value:      types.ValueIdOf(encoded),
		Validity:   value.Valid,
	}
	proposalCh := l.store.StoreUndecidedProposalAsync(pv)
	dataCh := l.store.StoreBlockDataAsync(func() error {
		return l.store.StoreUndecidedBlockData(parts.Height, parts.Round, encoded)
	})
	if err := <-proposalCh; err != nil {
		l.log.Errorw("received_proposal_store_failed", "height", parts.Height, "round", parts.Round, "err", err)
		m.Reply <- nil
		return
	}
	if err := <-dataCh; err != nil {
		l.log.Errorw("received_proposal_store_data_failed", "height", parts.Height, "round", parts.Round, "err", err)
		m.Reply <- nil
		return
	}

	m.Reply <- &pv
}

func (l *Loop) onDecided(m Decided) {
	cert := m.Certificate
	proposal, err := l.store.GetUndecidedProposal(cert.Height, cert.Round)
	if err != nil {
		l.log.Errorw("decided_missing_undecided_proposal", "height", cert.Height, "round", cert.Round, "err", err)
		return
	}

	// Decided-value is awaited: Prune and the reply's NextHeight both assume
	// it is already visible to readers before this function returns.
	if err := <-l.store.StoreDecidedValueAsync(cert, proposal.Value); err != nil {
		l.log.Errorw("decided_store_failed", "height", cert.Height, "err", err)
		return
	}

	data, err := l.store.GetBlockData(cert.Height, cert.Round)
	if err == nil {
		// Awaited: GetValue and ReceivedProposalPart at the next height read
		// this block back as the parent via GetDecidedBlock.
		dataCh := l.store.StoreBlockDataAsync(func() error {
			return l.store.StoreDecidedBlockData(cert.Height, data)
		})
		if err := <-dataCh; err != nil {
			l.log.Errorw("decided_store_block_data_failed", "height", cert.Height, "err", err)
		}
		if l.heads != nil {
			if b, err := block.UnmarshalBinary(data); err == nil {
				l.heads.NotifyNewHead(cert.Height, b.Header.BlockHash)
			}
		}
	}

	retain := cert.Height.SubSat(MaxHistoryLength)
	if _, err := l.store.Prune(retain); err != nil {
		l.log.Errorw("decided_prune_failed", "retain_height", retain, "err", err)
	}
	l.reasm.EvictBelow(retain)

	l.currentHeight = cert.Height.Add(1)
	l.currentRound = types.NewRound(0)

	m.Reply <- DecidedReply{NextHeight: l.currentHeight, ValidatorSet: l.validators.All()}
}

func (l *Loop) onProcessSyncedValue(m ProcessSyncedValue) {
	pv := value.ProposedValue{
		Height:     m.Height,
		Round:      m.Round,
		ValidRound: types.NilRound,
		Proposer:   m.Proposer,
		Value:      types.ValueIdOf(m.Bytes),
		Validity:   value.Valid,
	}
	if err := l.store.StoreUndecidedProposal(pv); err != nil {
		l.log.Errorw("process_synced_value_store_failed", "height", m.Height, "err", err)
	}
	if err := l.store.StoreUndecidedBlockData(m.Height, m.Round, m.Bytes); err != nil {
		l.log.Errorw("process_synced_value_store_data_failed", "height", m.Height, "err", err)
	}
	m.Reply <- &pv
}

func (l *Loop) onGetDecidedValue(m GetDecidedValue) {
	_, cert, err := l.store.GetDecidedValue(m.Height)
	if err != nil {
		m.Reply <- GetDecidedValueReply{Found: false}
		return
	}
	bytes, err := l.store.GetDecidedBlock(m.Height)
	if err != nil {
		m.Reply <- GetDecidedValueReply{Found: false}
		return
	}
	m.Reply <- GetDecidedValueReply{Bytes: bytes, Cert: cert, Found: true}
}

func (l *Loop) onGetHistoryMinHeight(m GetHistoryMinHeight) {
	h, ok := l.store.MinDecidedValueHeight()
	m.Reply <- struct {
		Height types.Height
		Found  bool
	}{Height: h, Found: ok}
}
