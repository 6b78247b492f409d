// Package blob defines the fixed-size opaque payload carried by every
// transaction and the pluggable FRI data-availability commitment interface
// the block header binds to. The FRI primitives themselves (commit,
// sample, verify) are an external collaborator; this package only defines
// the shape a real implementation must satisfy, plus a deterministic
// reference implementation for tests and single-process operation.
package blob

import "errors"

// BlobSize is the fixed size of every blob in bytes.
const BlobSize = 983_040

// BlobsPerBlock is the fixed number of blobs carried by one block (one per
// transaction field, four transactions' worth is not implied: each
// transaction itself carries four blobs, N in the header is per-block).
const BlobsPerBlock = 4

var ErrWrongSize = errors.New("blob: payload must be exactly BlobSize bytes")

// Blob is a fixed-size opaque byte vector. Construct with New to enforce
// the size invariant; a short slice must never be accepted.
type Blob []byte

// New validates and wraps b as a Blob. Returns ErrWrongSize unless b is
// exactly BlobSize bytes.
func New(b []byte) (Blob, error) {
	if len(b) != BlobSize {
		return nil, ErrWrongSize
	}
	return Blob(b), nil
}

// Commitment is a single 32-byte FRI polynomial commitment over one blob.
type Commitment [32]byte

// Proof is an opaque FRI sampling proof; its internal shape belongs to the
// external FRI library and is not interpreted by this package.
type Proof []byte

// Params fixes the FRI configuration the node commits and samples under;
// client-side verification must use the same parameters (spec §4.6).
type Params struct {
	PowBits                 int
	LogBlowupFactor         int
	LogLastLayerDegreeBound int
	NQueries                int
}

// DefaultParams matches the parameters the RPC's sampleBlob handler must
// use for client-side verify(proof, seed) to succeed.
var DefaultParams = Params{
	PowBits:                 20,
	LogBlowupFactor:         4,
	LogLastLayerDegreeBound: 0,
	NQueries:                20,
}

// Committer is the external FRI primitive's interface: commit to a blob,
// sample a proof for a query seed, and verify a proof against a commitment.
type Committer interface {
	Commit(b Blob, params Params) (Commitment, error)
	Sample(b Blob, commitment Commitment, seed uint64, params Params) (Proof, error)
	Verify(commitment Commitment, proof Proof, seed uint64, params Params) (bool, error)
}
