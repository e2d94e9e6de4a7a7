package httpapi

import (
	"context"
	"errors"
	"time"
)

// errQueueTimeout is returned when the generation slot stays taken for the
// whole queue timeout.
var errQueueTimeout = errors.New("generation slot busy")

// slot serialises generations. A buffered channel of one is the token.
type slot struct {
	ch chan struct{}
}

func newSlot() *slot {
	return &slot{ch: make(chan struct{}, 1)}
}

// acquire takes the slot, waiting at most timeout. It returns ctx.Err() if
// the caller goes away first.
func (s *slot) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	default:
	}
	if timeout <= 0 {
		return errQueueTimeout
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-t.C:
		return errQueueTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slot) release() {
	<-s.ch
}
