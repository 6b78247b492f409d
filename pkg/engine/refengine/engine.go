// Package refengine is a minimal reference consensus engine: just enough
// round-driving logic to exercise the app loop's channel contract end to
// end in tests and single-validator testnets. It is not a BFT engine — no
// vote collection, no timeouts, no gossip — just a lone local validator
// who immediately "decides" every value it proposes.
package refengine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mikan-network/mikan-node/pkg/app"
	"github.com/mikan-network/mikan-node/pkg/types"
	"github.com/mikan-network/mikan-node/pkg/value"
	"github.com/mikan-network/mikan-node/pkg/wal"
)

// Engine drives a single local validator through successive heights,
// issuing the inbound messages app.Loop expects and immediately committing
// every proposal it builds.
type Engine struct {
	inbound chan app.Message
	log     *zap.SugaredLogger
	wal     wal.WAL
}

// New returns an Engine whose inbound channel is ready to be drained by
// app.Loop.Run via Inbound(). Its WAL defaults to wal.Nop; set it with
// SetWAL to make `dump-wal` have something to read.
func New(log *zap.SugaredLogger) *Engine {
	return &Engine{inbound: make(chan app.Message), log: log, wal: wal.NewNop()}
}

// SetWAL wires the engine's round-progression log.
func (e *Engine) SetWAL(w wal.WAL) { e.wal = w }

// Inbound returns the channel app.Loop.Run should drain.
func (e *Engine) Inbound() <-chan app.Message { return e.inbound }

// Run drives height-by-height round progression until ctx is cancelled,
// closing the inbound channel on exit — which the app loop treats as
// fatal, matching a real engine dying.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.inbound)

	readyReply := make(chan app.ConsensusReadyReply, 1)
	if !e.send(ctx, app.ConsensusReady{Reply: readyReply}) {
		return ctx.Err()
	}
	height := (<-readyReply).Height

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		round := types.NewRound(0)

		startedReply := make(chan *value.ProposedValue, 1)
		if !e.send(ctx, app.StartedRound{Height: height, Round: round, Reply: startedReply}) {
			return ctx.Err()
		}
		existing := <-startedReply

		pv := existing
		if pv == nil {
			getValueReply := make(chan *value.ProposedValue, 1)
			if !e.send(ctx, app.GetValue{Height: height, Round: round, Timeout: 500 * time.Millisecond, Reply: getValueReply}) {
				return ctx.Err()
			}
			pv = <-getValueReply
			if pv == nil {
				err := fmt.Errorf("refengine: GetValue(%d,%d) failed", height, round)
				e.log.Errorw("refengine_get_value_failed", "height", height, "round", round)
				return err
			}
		}

		decidedReply := make(chan app.DecidedReply, 1)
		cert := types.CommitCertificate{
			Height:              height,
			Round:               round,
			ValueId:             pv.Value,
			AggregatedSignature: []byte("refengine-single-validator-cert"),
		}
		if !e.send(ctx, app.Decided{Certificate: cert, Reply: decidedReply}) {
			return ctx.Err()
		}
		e.wal.Append(fmt.Sprintf("decided height=%d round=%d", height, round))
		height = (<-decidedReply).NextHeight

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (e *Engine) send(ctx context.Context, msg app.Message) bool {
	select {
	case e.inbound <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
