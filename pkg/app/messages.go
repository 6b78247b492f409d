// Package app implements the state machine that services the consensus
// engine's inbound message channel (C7): assembling proposals, ingesting
// streamed parts, and persisting decisions.
package app

import (
	"time"

	"github.com/mikan-network/mikan-node/pkg/streaming"
	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/validator"
	"github.com/mikan-network/mikan-node/pkg/value"
)

// Message is the tagged variant the consensus engine sends on the inbound
// channel. Exactly one concrete type below satisfies it per call.
type Message interface{ isMessage() }

// ConsensusReady asks for the node's current height and validator set.
type ConsensusReady struct {
	Reply chan<- ConsensusReadyReply
}

type ConsensusReadyReply struct {
	Height         types.Height
	ValidatorSet   []validator.Info
}

// StartedRound announces a new (height, round, proposer); replies with any
// undecided proposal already on file for it.
type StartedRound struct {
	Height   types.Height
	Round    types.Round
	Proposer types.Address
	Reply    chan<- *value.ProposedValue
}

// GetValue asks the app to build and stream a new proposal.
type GetValue struct {
	Height  types.Height
	Round   types.Round
	Timeout time.Duration
	Reply   chan<- *value.ProposedValue
}

// ReceivedProposalPart feeds one inbound streamed chunk into the reassembler.
type ReceivedProposalPart struct {
	From  string
	Part  streaming.StreamMessage
	Reply chan<- *value.ProposedValue
}

// GetValidatorSet asks for the validator set effective at Height.
type GetValidatorSet struct {
	Height types.Height
	Reply  chan<- []validator.Info
}

// Decided announces a commit certificate; the app moves the corresponding
// proposal from undecided to decided storage and prunes old history.
type Decided struct {
	Certificate types.CommitCertificate
	Reply       chan<- DecidedReply
}

type DecidedReply struct {
	NextHeight   types.Height
	ValidatorSet []validator.Info
}

// ProcessSyncedValue ingests a value obtained out-of-band (state sync),
// trusted without re-validation: the certificate that will accompany its
// decision is the authority here, not this node's own block checks.
type ProcessSyncedValue struct {
	Height   types.Height
	Round    types.Round
	Proposer types.Address
	Bytes    []byte
	Reply    chan<- *value.ProposedValue
}

// GetDecidedValue asks for the canonical bytes of the value decided at
// Height.
type GetDecidedValue struct {
	Height types.Height
	Reply  chan<- GetDecidedValueReply
}

type GetDecidedValueReply struct {
	Bytes []byte
	Cert  types.CommitCertificate
	Found bool
}

// GetHistoryMinHeight asks for the lowest height still retained.
type GetHistoryMinHeight struct {
	Reply chan<- (struct {
		Height types.Height
		Found  bool
	})
}

// PeerJoined / PeerLeft track the in-memory peer set; no reply expected.
type PeerJoined struct{ Peer string }
type PeerLeft struct{ Peer string }

// ExtendVote / VerifyVoteExtension are unused; the app replies empty/OK.
type ExtendVote struct {
	Reply chan<- []byte
}

type VerifyVoteExtension struct {
	Extension []byte
	Reply     chan<- bool
}

func (ConsensusReady) isMessage()       {}
func (StartedRound) isMessage()         {}
func (GetValue) isMessage()             {}
func (ReceivedProposalPart) isMessage() {}
func (GetValidatorSet) isMessage()      {}
func (Decided) isMessage()              {}
func (ProcessSyncedValue) isMessage()   {}
func (GetDecidedValue) isMessage()      {}
func (GetHistoryMinHeight) isMessage()  {}
func (PeerJoined) isMessage()           {}
func (PeerLeft) isMessage()             {}
func (ExtendVote) isMessage()           {}
func (VerifyVoteExtension) isMessage()  {}
