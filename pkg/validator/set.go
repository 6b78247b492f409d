// Package validator holds the genesis validator set: the mapping from
// validator address to Ed25519 public key used to verify proposal
// signatures and to answer the consensus engine's GetValidatorSet query.
package validator

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mikan-network/mikan-node/pkg/types"
)

// Info is one validator's identity and voting power.
type Info struct {
	Address   types.Address
	PublicKey ed25519.PublicKey
	Power     int64
}

// Set is the static genesis validator set. GetValidatorSet answers the
// same way regardless of the height argument; a height-keyed history
// (validator set changes across epochs) is not implemented.
type Set struct {
	byAddress map[types.Address]Info
	ordered   []Info
}

// NewSet builds a Set from the genesis validator list. Duplicate addresses
// are rejected.
func NewSet(infos []Info) (*Set, error) {
	byAddress := make(map[types.Address]Info, len(infos))
	for _, v := range infos {
		if _, dup := byAddress[v.Address]; dup {
			return nil, fmt.Errorf("validator: duplicate address %s in genesis set", v.Address)
		}
		byAddress[v.Address] = v
	}
	return &Set{byAddress: byAddress, ordered: append([]Info(nil), infos...)}, nil
}

// Get returns the validator info for addr, if present.
func (s *Set) Get(addr types.Address) (Info, bool) {
	v, ok := s.byAddress[addr]
	return v, ok
}

// All returns the validators in genesis declaration order.
func (s *Set) All() []Info {
	return append([]Info(nil), s.ordered...)
}

// TotalPower sums voting power across the set.
func (s *Set) TotalPower() int64 {
	var total int64
	for _, v := range s.ordered {
		total += v.Power
	}
	return total
}
