package blob

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// chunkSize is the leaf granularity used by HashCommitter's internal Merkle
// tree, mirroring the chunked-hash-tree shape of a lattice-based PQ blob
// commitment scheme, generalized here to plain SHA-256 since the real FRI
// primitive lives outside this module.
const chunkSize = 4096

// HashCommitter is a deterministic stand-in for the external FRI library,
// used in tests and single-process deployments where no real FRI service
// is wired in. It is not a polynomial commitment: it is a Merkle hash tree
// over fixed-size chunks, good enough to exercise the commit/sample/verify
// contract end to end.
type HashCommitter struct{}

var _ Committer = HashCommitter{}

var ErrVerifyFailed = errors.New("blob: commitment/proof mismatch")

func (HashCommitter) Commit(b Blob, params Params) (Commitment, error) {
	if len(b) != BlobSize {
		return Commitment{}, ErrWrongSize
	}
	leaves := chunkHashes(b)
	return Commitment(merkleRoot(leaves)), nil
}

// Proof for HashCommitter is the sampled chunk plus its Merkle path,
// indexed deterministically by seed.
type hashProof struct {
	index uint32
	chunk []byte
	path  [][32]byte
}

func (HashCommitter) Sample(b Blob, commitment Commitment, seed uint64, params Params) (Proof, error) {
	if len(b) != BlobSize {
		return nil, ErrWrongSize
	}
	leaves := chunkHashes(b)
	idx := uint32(seed % uint64(len(leaves)))
	path := merklePath(leaves, idx)
	start := int(idx) * chunkSize
	end := start + chunkSize
	if end > len(b) {
		end = len(b)
	}
	return encodeHashProof(hashProof{index: idx, chunk: b[start:end], path: path}), nil
}

func (HashCommitter) Verify(commitment Commitment, proof Proof, seed uint64, params Params) (bool, error) {
	p, err := decodeHashProof(proof)
	if err != nil {
		return false, err
	}
	numChunks := (BlobSize + chunkSize - 1) / chunkSize
	if uint64(p.index) != seed%uint64(numChunks) {
		return false, nil
	}
	leaf := sha256.Sum256(p.chunk)
	root := recomputeRoot(leaf, p.index, p.path, numChunks)
	return root == [32]byte(commitment), nil
}

func chunkHashes(b Blob) [][32]byte {
	n := (len(b) + chunkSize - 1) / chunkSize
	out := make([][32]byte, n)
	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(b) {
			end = len(b)
		}
		out[i] = sha256.Sum256(b[start:end])
	}
	return out
}

func merkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := leaves
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, hashPair(level[i], level[i]))
			} else {
				next = append(next, hashPair(level[i], level[i+1]))
			}
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return sha256.Sum256(buf)
}

func merklePath(leaves [][32]byte, idx uint32) [][32]byte {
	var path [][32]byte
	level := leaves
	i := int(idx)
	for len(level) > 1 {
		var sibling [32]byte
		if i%2 == 0 {
			if i+1 < len(level) {
				sibling = level[i+1]
			} else {
				sibling = level[i]
			}
		} else {
			sibling = level[i-1]
		}
		path = append(path, sibling)

		next := make([][32]byte, 0, (len(level)+1)/2)
		for j := 0; j < len(level); j += 2 {
			if j+1 == len(level) {
				next = append(next, hashPair(level[j], level[j]))
			} else {
				next = append(next, hashPair(level[j], level[j+1]))
			}
		}
		level = next
		i = i / 2
	}
	return path
}

func recomputeRoot(leaf [32]byte, idx uint32, path [][32]byte, numLeaves int) [32]byte {
	cur := leaf
	i := int(idx)
	for _, sibling := range path {
		if i%2 == 0 {
			cur = hashPair(cur, sibling)
		} else {
			cur = hashPair(sibling, cur)
		}
		i = i / 2
	}
	return cur
}

func encodeHashProof(p hashProof) []byte {
	buf := make([]byte, 4+4+len(p.chunk)+4+len(p.path)*32)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], p.index)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(len(p.chunk)))
	off += 4
	copy(buf[off:], p.chunk)
	off += len(p.chunk)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(p.path)))
	off += 4
	for _, h := range p.path {
		copy(buf[off:], h[:])
		off += 32
	}
	return buf[:off]
}

func decodeHashProof(b []byte) (hashProof, error) {
	if len(b) < 8 {
		return hashProof{}, errors.New("blob: truncated proof")
	}
	off := 0
	index := binary.BigEndian.Uint32(b[off:])
	off += 4
	chunkLen := binary.BigEndian.Uint32(b[off:])
	off += 4
	if len(b) < off+int(chunkLen)+4 {
		return hashProof{}, errors.New("blob: truncated proof chunk")
	}
	chunk := b[off : off+int(chunkLen)]
	off += int(chunkLen)
	pathLen := binary.BigEndian.Uint32(b[off:])
	off += 4
	if len(b) < off+int(pathLen)*32 {
		return hashProof{}, errors.New("blob: truncated proof path")
	}
	path := make([][32]byte, pathLen)
	for i := range path {
		copy(path[i][:], b[off:off+32])
		off += 32
	}
	return hashProof{index: index, chunk: chunk, path: path}, nil
}
