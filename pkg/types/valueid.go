package types

import "github.com/cespare/xxhash/v2"

// ValueId is a non-cryptographic 64-bit fingerprint of a value's raw bytes,
// used by the consensus engine for vote equivocation checks. Collisions are
// acceptable: a CommitCertificate binds the full value bytes, not just this
// id, so this is a performance shortcut, not a security boundary.
type ValueId uint64

// ValueIdOf hashes raw encoded value bytes into a ValueId.
func ValueIdOf(b []byte) ValueId {
	return ValueId(xxhash.Sum64(b))
}
