package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"leveler/llamaruntime"
)

// generationLoop produces one response, token by token.
type generationLoop struct {
	model   llamaruntime.Model
	rctx    llamaruntime.Context
	sampler llamaruntime.Sampler
	stream  *fragmentStreamer
	stats   *StatsCollector

	ctx    context.Context
	cancel *atomic.Bool
}

func (g *generationLoop) cancelled() bool {
	return g.cancel.Load() || g.ctx.Err() != nil
}

// run generates up to maxTokens tokens, the first decoded at position pos.
// Cancellation is polled once per iteration, before sampling. Text already
// streamed stays delivered on every exit path.
func (g *generationLoop) run(pos, maxTokens int) (StopReason, error) {
	eos := g.model.EOS()

	for i := 0; i < maxTokens; i++ {
		if g.cancelled() {
			g.stream.flush()
			return StopCancelled, ErrCancelled
		}

		tok := g.sampler.Sample()
		g.sampler.Accept(tok)
		if tok == eos {
			g.stream.flush()
			return StopEOS, nil
		}
		g.stats.tokenGenerated()

		if group, matched := g.stream.push(g.model.TokenToPiece(tok)); matched {
			if group == groupEcho {
				return StopEcho, nil
			}
			return StopMarker, nil
		}

		if i == maxTokens-1 {
			break
		}
		if err := g.rctx.Decode([]llamaruntime.BatchEntry{{Token: tok, Pos: pos, Logits: true}}); err != nil {
			g.stream.flush()
			return StopError, fmt.Errorf("%w: decode at position %d: %w", ErrInferenceFailed, pos, err)
		}
		pos++
	}

	g.stream.flush()
	return StopLength, nil
}
