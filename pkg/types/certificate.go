package types

// CommitCertificate is the consensus engine's opaque proof binding
// (height, round, value id) to an aggregated signature set. The node never
// interprets AggregatedSignature; it is produced and would be verified by
// the external consensus engine, and stored verbatim.
type CommitCertificate struct {
	Height              Height
	Round               Round
	ValueId             ValueId
	AggregatedSignature []byte
}
