// Package value defines ProposedValue, the shape the consensus engine and
// the persistent store exchange: a value id at a given height/round plus
// the validity the app loop assigned it. Kept separate from pkg/app and
// pkg/store so both can depend on it without an import cycle.
package value

import "github.com/mikan-network/mikan-node/pkg/types"

// Validity is the app loop's verdict on a ProposedValue.
type Validity int

const (
	Unknown Validity = iota
	Valid
	Invalid
)

// ProposedValue is a value at (height, round), either produced locally by
// GetValue or assembled from received proposal parts / a sync payload.
type ProposedValue struct {
	Height     types.Height
	Round      types.Round
	ValidRound types.Round // NilRound if this value was not re-proposed from an earlier round
	Proposer   types.Address
	Value      types.ValueId
	Validity   Validity
}
