// Package streaming implements proposal chunking and reassembly: splitting a
// block's encoded bytes into ordered wire parts for dissemination, and
// rebuilding them on the receiving side, per consensus.proto's ProposalPart
// schema.
package streaming

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mikan-network/mikan-node/pkg/types"
)

// PartKind tags which oneof variant a ProposalPart carries.
type PartKind int

const (
	PartInit PartKind = iota
	PartData
	PartFin
)

// ProposalPart is one chunk of a streamed proposal, matching the oneof in
// consensus.proto: Init carries the proposal's header fields, Data carries a
// raw byte chunk, Fin carries the Ed25519 signature over the whole stream.
type ProposalPart struct {
	Kind PartKind

	// Init fields.
	Height   types.Height
	Round    types.Round
	Proposer types.Address

	// Data field.
	Chunk []byte

	// Fin field. 64-byte Ed25519 signature.
	Signature []byte
}

// StreamMessage is one frame on the wire: a stream id, a monotonic sequence
// number, and the ProposalPart it carries.
type StreamMessage struct {
	StreamID []byte
	Sequence uint64
	Part     ProposalPart
}

// field numbers, matching consensus.proto exactly: ProposalPart's oneof
// (init=1, data=2, fin=3), Init's fields (height=1, round=2, proposer=3),
// and Fin's field (signature=1) are each independently numbered nested
// messages, not siblings flattened onto ProposalPart.
const (
	fieldStreamID = 1
	fieldSequence = 2
	fieldPart     = 3

	fieldPartInit = 1
	fieldPartData = 2
	fieldPartFin  = 3

	fieldInitHeight   = 1
	fieldInitRound    = 2
	fieldInitProposer = 3

	fieldFinSignature = 1
)

// MarshalBinary encodes m using protobuf wire format, by hand via protowire
// (no protoc-generated types; the schema lives in proto/consensus.proto and
// this encoding matches it field-for-field, so a protoc-generated client
// reading consensus.proto can parse these bytes unmodified).
func (m StreamMessage) MarshalBinary() ([]byte, error) {
	var partBuf []byte
	switch m.Part.Kind {
	case PartInit:
		var initBuf []byte
		initBuf = protowire.AppendTag(initBuf, fieldInitHeight, protowire.VarintType)
		initBuf = protowire.AppendVarint(initBuf, uint64(m.Part.Height))
		initBuf = protowire.AppendTag(initBuf, fieldInitRound, protowire.VarintType)
		var roundNum uint64
		if !m.Part.Round.IsNil() {
			roundNum = uint64(m.Part.Round.Num())
		}
		initBuf = protowire.AppendVarint(initBuf, roundNum)
		initBuf = protowire.AppendTag(initBuf, fieldInitProposer, protowire.BytesType)
		initBuf = protowire.AppendBytes(initBuf, m.Part.Proposer[:])
		partBuf = protowire.AppendTag(partBuf, fieldPartInit, protowire.BytesType)
		partBuf = protowire.AppendBytes(partBuf, initBuf)
	case PartData:
		partBuf = protowire.AppendTag(partBuf, fieldPartData, protowire.BytesType)
		partBuf = protowire.AppendBytes(partBuf, m.Part.Chunk)
	case PartFin:
		var finBuf []byte
		finBuf = protowire.AppendTag(finBuf, fieldFinSignature, protowire.BytesType)
		finBuf = protowire.AppendBytes(finBuf, m.Part.Signature)
		partBuf = protowire.AppendTag(partBuf, fieldPartFin, protowire.BytesType)
		partBuf = protowire.AppendBytes(partBuf, finBuf)
	default:
		return nil, fmt.Errorf("streaming: unknown part kind %d", m.Part.Kind)
	}

	var buf []byte
	buf = protowire.AppendTag(buf, fieldStreamID, protowire.BytesType)
	buf = protowire.AppendBytes(buf, m.StreamID)
	buf = protowire.AppendTag(buf, fieldSequence, protowire.VarintType)
	buf = protowire.AppendVarint(buf, m.Sequence)
	buf = protowire.AppendTag(buf, fieldPart, protowire.BytesType)
	buf = protowire.AppendBytes(buf, partBuf)
	return buf, nil
}

// UnmarshalStreamMessage decodes a StreamMessage from its protobuf wire
// encoding.
func UnmarshalStreamMessage(data []byte) (StreamMessage, error) {
	var m StreamMessage
	var partBuf []byte

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return StreamMessage{}, fmt.Errorf("streaming: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldStreamID:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return StreamMessage{}, fmt.Errorf("streaming: bad stream_id: %w", protowire.ParseError(n))
			}
			m.StreamID = append([]byte(nil), v...)
			data = data[n:]
		case fieldSequence:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return StreamMessage{}, fmt.Errorf("streaming: bad sequence: %w", protowire.ParseError(n))
			}
			m.Sequence = v
			data = data[n:]
		case fieldPart:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return StreamMessage{}, fmt.Errorf("streaming: bad part: %w", protowire.ParseError(n))
			}
			partBuf = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return StreamMessage{}, fmt.Errorf("streaming: bad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	part, err := unmarshalProposalPart(partBuf)
	if err != nil {
		return StreamMessage{}, err
	}
	m.Part = part
	return m, nil
}

// unmarshalProposalPart decodes a ProposalPart from the oneof layout
// declared in consensus.proto: which field number is present (1, 2, or 3)
// determines the kind, there is no separate discriminator field.
func unmarshalProposalPart(data []byte) (ProposalPart, error) {
	var p ProposalPart
	sawKind := false

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ProposalPart{}, fmt.Errorf("streaming: bad part tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldPartInit:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ProposalPart{}, fmt.Errorf("streaming: bad init: %w", protowire.ParseError(n))
			}
			if err := unmarshalInit(v, &p); err != nil {
				return ProposalPart{}, err
			}
			p.Kind = PartInit
			sawKind = true
			data = data[n:]
		case fieldPartData:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ProposalPart{}, fmt.Errorf("streaming: bad data: %w", protowire.ParseError(n))
			}
			p.Chunk = append([]byte(nil), v...)
			p.Kind = PartData
			sawKind = true
			data = data[n:]
		case fieldPartFin:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ProposalPart{}, fmt.Errorf("streaming: bad fin: %w", protowire.ParseError(n))
			}
			if err := unmarshalFin(v, &p); err != nil {
				return ProposalPart{}, err
			}
			p.Kind = PartFin
			sawKind = true
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ProposalPart{}, fmt.Errorf("streaming: bad part field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !sawKind {
		return ProposalPart{}, fmt.Errorf("streaming: proposal part missing kind")
	}
	return p, nil
}

func unmarshalInit(data []byte, p *ProposalPart) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("streaming: bad init tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldInitHeight:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("streaming: bad height: %w", protowire.ParseError(n))
			}
			p.Height = types.Height(v)
			data = data[n:]
		case fieldInitRound:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("streaming: bad round: %w", protowire.ParseError(n))
			}
			p.Round = types.NewRound(int32(v))
			data = data[n:]
		case fieldInitProposer:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("streaming: bad proposer: %w", protowire.ParseError(n))
			}
			copy(p.Proposer[:], v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("streaming: bad init field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

func unmarshalFin(data []byte, p *ProposalPart) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("streaming: bad fin tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldFinSignature:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("streaming: bad signature: %w", protowire.ParseError(n))
			}
			p.Signature = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("streaming: bad fin field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
