// Package types holds the primitive identity and ordering values shared by
// every layer of the node: heights, rounds, addresses and value ids.
package types

import "fmt"

// Height is a monotonic block index. The chain starts at GenesisHeight.
type Height uint64

const GenesisHeight Height = 0

// Add returns h+n.
func (h Height) Add(n uint64) Height {
	return h + Height(n)
}

// SubSat returns h-n, saturating at GenesisHeight instead of underflowing.
func (h Height) SubSat(n uint64) Height {
	if uint64(h) < n {
		return GenesisHeight
	}
	return h - Height(n)
}

func (h Height) String() string { return fmt.Sprintf("%d", uint64(h)) }
