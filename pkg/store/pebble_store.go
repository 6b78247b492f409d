package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/value"
)

// Store is the pebble-backed persistent store: decided values and their
// commit certificates, undecided proposals awaiting decision, and the raw
// block bytes behind both.
type Store struct {
	db      *pebble.DB
	metrics *Metrics
}

// Open opens (creating if absent) a pebble database at path.
func Open(path string, metrics *Metrics) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, newErr(ErrIO, "open", err)
	}
	return &Store{db: db, metrics: metrics}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return newErr(ErrIO, "close", err)
	}
	return nil
}

// StoreDecidedValue persists the certificate and value id for a decided
// height. Idempotent: a second call for the same height overwrites with the
// same bytes it would already hold, per the commit certificate's binding to
// a single value per height.
func (s *Store) StoreDecidedValue(cert types.CommitCertificate, vid types.ValueId) error {
	start := time.Now()
	key := heightKey(prefixDecidedValue, cert.Height)
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(vid))

	certKey := heightKey(prefixCertificate, cert.Height)
	certVal := encodeCertificate(cert)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, val, nil); err != nil {
		return newErr(ErrIO, "store_decided_value", err)
	}
	if err := b.Set(certKey, certVal, nil); err != nil {
		return newErr(ErrIO, "store_decided_value", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return newErr(ErrIO, "store_decided_value", err)
	}
	s.metrics.observe("store_decided_value", start, len(key)+len(certKey), len(val)+len(certVal))
	return nil
}

// GetDecidedValue returns the value id and certificate decided at h.
func (s *Store) GetDecidedValue(h types.Height) (types.ValueId, types.CommitCertificate, error) {
	start := time.Now()
	key := heightKey(prefixDecidedValue, h)
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return 0, types.CommitCertificate{}, newErr(ErrNotFound, "get_decided_value", nil)
	}
	if err != nil {
		return 0, types.CommitCertificate{}, newErr(ErrIO, "get_decided_value", err)
	}
	vid := types.ValueId(binary.BigEndian.Uint64(val))
	closer.Close()

	certKey := heightKey(prefixCertificate, h)
	certVal, certCloser, err := s.db.Get(certKey)
	if err != nil {
		return 0, types.CommitCertificate{}, newErr(ErrCorrupt, "get_decided_value", err)
	}
	cert, err := decodeCertificate(certVal)
	certCloser.Close()
	if err != nil {
		return 0, types.CommitCertificate{}, newErr(ErrCorrupt, "get_decided_value", err)
	}
	s.metrics.observe("get_decided_value", start, len(key), len(val)+len(certVal))
	return vid, cert, nil
}

// StoreUndecidedProposal inserts a proposal seen at (height, round) if one
// is not already present: the first write for a given (height, round) is
// authoritative; later writes are silently dropped rather than
// overwriting it.
func (s *Store) StoreUndecidedProposal(p value.ProposedValue) error {
	start := time.Now()
	key := heightRoundKey(prefixUndecided, p.Height, p.Round)
	if _, closer, err := s.db.Get(key); err == nil {
		closer.Close()
		return nil
	} else if err != pebble.ErrNotFound {
		return newErr(ErrIO, "store_undecided_proposal", err)
	}
	val := encodeProposedValue(p)
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return newErr(ErrIO, "store_undecided_proposal", err)
	}
	s.metrics.observe("store_undecided_proposal", start, len(key), len(val))
	return nil
}

// GetUndecidedProposal returns the proposal stored at (height, round), if
// any.
func (s *Store) GetUndecidedProposal(h types.Height, r types.Round) (value.ProposedValue, error) {
	start := time.Now()
	key := heightRoundKey(prefixUndecided, h, r)
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return value.ProposedValue{}, newErr(ErrNotFound, "get_undecided_proposal", nil)
	}
	if err != nil {
		return value.ProposedValue{}, newErr(ErrIO, "get_undecided_proposal", err)
	}
	defer closer.Close()
	p, err := decodeProposedValue(val)
	if err != nil {
		return value.ProposedValue{}, newErr(ErrCorrupt, "get_undecided_proposal", err)
	}
	s.metrics.observe("get_undecided_proposal", start, len(key), len(val))
	return p, nil
}

// StoreUndecidedBlockData persists raw block bytes for an undecided
// (height, round) proposal, insert-if-absent like StoreUndecidedProposal.
func (s *Store) StoreUndecidedBlockData(h types.Height, r types.Round, data []byte) error {
	return s.storeBlockData(prefixUndecidedData, heightRoundKey(prefixUndecidedData, h, r), data)
}

// StoreDecidedBlockData persists raw block bytes for a decided height.
func (s *Store) StoreDecidedBlockData(h types.Height, data []byte) error {
	return s.storeBlockData(prefixDecidedData, heightKey(prefixDecidedData, h), data)
}

func (s *Store) storeBlockData(prefix byte, key []byte, data []byte) error {
	start := time.Now()
	if _, closer, err := s.db.Get(key); err == nil {
		closer.Close()
		return nil
	} else if err != pebble.ErrNotFound {
		return newErr(ErrIO, "store_block_data", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return newErr(ErrIO, "store_block_data", err)
	}
	s.metrics.observe("store_block_data", start, len(key), len(data))
	return nil
}

// GetBlockData returns the raw block bytes for (height, round), checking the
// undecided table first and falling back to the decided table, since a
// proposal is moved conceptually (not physically) from undecided to decided
// on commit.
func (s *Store) GetBlockData(h types.Height, r types.Round) ([]byte, error) {
	start := time.Now()
	key := heightRoundKey(prefixUndecidedData, h, r)
	if val, closer, err := s.db.Get(key); err == nil {
		defer closer.Close()
		out := append([]byte(nil), val...)
		s.metrics.observe("get_block_data", start, len(key), len(out))
		return out, nil
	} else if err != pebble.ErrNotFound {
		return nil, newErr(ErrIO, "get_block_data", err)
	}

	dkey := heightKey(prefixDecidedData, h)
	val, closer, err := s.db.Get(dkey)
	if err == pebble.ErrNotFound {
		return nil, newErr(ErrNotFound, "get_block_data", nil)
	}
	if err != nil {
		return nil, newErr(ErrIO, "get_block_data", err)
	}
	defer closer.Close()
	out := append([]byte(nil), val...)
	s.metrics.observe("get_block_data", start, len(dkey), len(out))
	return out, nil
}

// GetDecidedBlock returns the raw block bytes decided at h.
func (s *Store) GetDecidedBlock(h types.Height) ([]byte, error) {
	start := time.Now()
	key := heightKey(prefixDecidedData, h)
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, newErr(ErrNotFound, "get_decided_block", nil)
	}
	if err != nil {
		return nil, newErr(ErrIO, "get_decided_block", err)
	}
	defer closer.Close()
	out := append([]byte(nil), val...)
	s.metrics.observe("get_decided_block", start, len(key), len(out))
	return out, nil
}

// MaxDecidedValueHeight returns the highest decided height (the chain's
// head), or (0, false) if the store holds none. Used by the RPC's
// blockNumber method.
func (s *Store) MaxDecidedValueHeight() (types.Height, bool) {
	lower := []byte{prefixDecidedValue}
	upper := []byte{prefixDecidedValue + 1}
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, false
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, false
	}
	return heightFromKey(iter.Key()), true
}

// MinDecidedValueHeight returns the lowest height with a decided value still
// retained, or (0, false) if the store holds none.
func (s *Store) MinDecidedValueHeight() (types.Height, bool) {
	lower := []byte{prefixDecidedValue}
	upper := []byte{prefixDecidedValue + 1}
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, false
	}
	defer iter.Close()
	if !iter.First() {
		return 0, false
	}
	return heightFromKey(iter.Key()), true
}

// Prune deletes every decided value, certificate, and decided block below
// retainHeight, plus any undecided proposal/block data below retainHeight,
// in a single batched transaction so a crash mid-prune cannot leave the
// tables inconsistent. Returns the number of decided-value entries removed.
func (s *Store) Prune(retainHeight types.Height) (int, error) {
	start := time.Now()
	b := s.db.NewIndexedBatch()
	defer b.Close()

	removed := 0
	for _, prefix := range []byte{prefixDecidedValue, prefixCertificate, prefixDecidedData} {
		n, err := deleteRangeByHeight(b, prefix, retainHeight)
		if err != nil {
			return 0, newErr(ErrIO, "prune", err)
		}
		if prefix == prefixDecidedValue {
			removed = n
		}
	}
	for _, prefix := range []byte{prefixUndecided, prefixUndecidedData} {
		if _, err := deleteRangeByHeightRound(b, prefix, retainHeight); err != nil {
			return 0, newErr(ErrIO, "prune", err)
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return 0, newErr(ErrIO, "prune", err)
	}
	s.metrics.observe("prune", start, 0, 0)
	return removed, nil
}

func deleteRangeByHeight(b *pebble.Batch, prefix byte, retainHeight types.Height) (int, error) {
	lower := []byte{prefix}
	upper := heightPrefixUpperBound(prefix, retainHeight)
	iter, err := b.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := b.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func deleteRangeByHeightRound(b *pebble.Batch, prefix byte, retainHeight types.Height) (int, error) {
	lower := []byte{prefix}
	upper := []byte{prefix}
	upper = append(upper, heightKey(prefix, retainHeight)[1:]...)
	iter, err := b.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := b.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func encodeCertificate(c types.CommitCertificate) []byte {
	var roundNum uint32
	if !c.Round.IsNil() {
		roundNum = uint32(c.Round.Num())
	}
	buf := make([]byte, 0, 21+len(c.AggregatedSignature))
	tmp := make([]byte, 8)
	binary.BigEndian.PutUint64(tmp, uint64(c.Height))
	buf = append(buf, tmp...)
	tmp4 := make([]byte, 4)
	binary.BigEndian.PutUint32(tmp4, roundNum)
	buf = append(buf, tmp4...)
	binary.BigEndian.PutUint64(tmp, uint64(c.ValueId))
	buf = append(buf, tmp...)
	buf = append(buf, c.AggregatedSignature...)
	return buf
}

func decodeCertificate(b []byte) (types.CommitCertificate, error) {
	if len(b) < 20 {
		return types.CommitCertificate{}, fmt.Errorf("truncated certificate: %d bytes", len(b))
	}
	h := types.Height(binary.BigEndian.Uint64(b[0:8]))
	roundNum := binary.BigEndian.Uint32(b[8:12])
	vid := types.ValueId(binary.BigEndian.Uint64(b[12:20]))
	sig := append([]byte(nil), b[20:]...)
	round := types.NewRound(int32(roundNum))
	return types.CommitCertificate{Height: h, Round: round, ValueId: vid, AggregatedSignature: sig}, nil
}

func encodeProposedValue(p value.ProposedValue) []byte {
	var validRoundNum int64 = -1
	if !p.ValidRound.IsNil() {
		validRoundNum = int64(p.ValidRound.Num())
	}
	buf := make([]byte, 0, 8+4+8+20+8+4+1)
	tmp8 := make([]byte, 8)
	binary.BigEndian.PutUint64(tmp8, uint64(p.Height))
	buf = append(buf, tmp8...)

	tmp4 := make([]byte, 4)
	var roundNum uint32
	if !p.Round.IsNil() {
		roundNum = uint32(p.Round.Num())
	}
	binary.BigEndian.PutUint32(tmp4, roundNum)
	buf = append(buf, tmp4...)

	binary.BigEndian.PutUint64(tmp8, uint64(validRoundNum))
	buf = append(buf, tmp8...)

	buf = append(buf, p.Proposer[:]...)

	binary.BigEndian.PutUint64(tmp8, uint64(p.Value))
	buf = append(buf, tmp8...)

	buf = append(buf, byte(p.Validity))
	return buf
}

func decodeProposedValue(b []byte) (value.ProposedValue, error) {
	if len(b) != 49 {
		return value.ProposedValue{}, fmt.Errorf("malformed proposed value: %d bytes", len(b))
	}
	h := types.Height(binary.BigEndian.Uint64(b[0:8]))
	roundNum := binary.BigEndian.Uint32(b[8:12])
	validRoundNum := int64(binary.BigEndian.Uint64(b[12:20]))
	var proposer types.Address
	copy(proposer[:], b[20:40])
	vid := types.ValueId(binary.BigEndian.Uint64(b[40:48]))
	validity := value.Validity(b[48])

	validRound := types.NilRound
	if validRoundNum >= 0 {
		validRound = types.NewRound(int32(validRoundNum))
	}

	return value.ProposedValue{
		Height:     h,
		Round:      types.NewRound(int32(roundNum)),
		ValidRound: validRound,
		Proposer:   proposer,
		Value:      vid,
		Validity:   validity,
	}, nil
}
