package types

import "fmt"

// Round is a discriminated value: either Nil or a non-negative round number.
// The zero value is round 0, not Nil; use NilRound explicitly.
type Round struct {
	nil bool
	num int32
}

// NilRound is the distinguished "no round" value, used before a round has
// started or after it has been abandoned.
var NilRound = Round{nil: true}

// NewRound constructs a concrete (non-nil) round. Panics if n is negative;
// callers hold this invariant at the call site since rounds never go
// negative in the wire or store representations.
func NewRound(n int32) Round {
	if n < 0 {
		panic(fmt.Sprintf("types: negative round %d", n))
	}
	return Round{num: n}
}

func (r Round) IsNil() bool { return r.nil }

// Num returns the round number; callers must check IsNil first.
func (r Round) Num() int32 {
	if r.nil {
		panic("types: Num called on nil round")
	}
	return r.num
}

func (r Round) String() string {
	if r.nil {
		return "nil"
	}
	return fmt.Sprintf("%d", r.num)
}

func (r Round) Equal(o Round) bool {
	return r.nil == o.nil && (r.nil || r.num == o.num)
}
