package session

import "context"

// TokenSink receives generated text. It is called on the generation
// goroutine: once per non-empty fragment with final=false, then exactly once
// with ("", true). The sink must be safe to call from that goroutine.
type TokenSink func(fragment string, final bool)

// Fragment is one element of a token stream.
type Fragment struct {
	Text  string
	Final bool
}

// ChannelSink returns a sink that forwards fragments to a channel, for
// callers that consume output on a goroutine of their own. The channel is
// closed after the final element. If ctx is cancelled while the consumer is
// not reading, further fragments are dropped so generation never blocks.
func ChannelSink(ctx context.Context, buffer int) (TokenSink, <-chan Fragment) {
	ch := make(chan Fragment, buffer)
	sink := func(fragment string, final bool) {
		select {
		case ch <- Fragment{Text: fragment, Final: final}:
		case <-ctx.Done():
		}
		if final {
			close(ch)
		}
	}
	return sink, ch
}

func discardSink(string, bool) {}
