// Package rate provides a small desynchronization primitive for periodic
// background loops (telemetry sampling) so that many
// instances in the same process don't all wake up on the same tick.
package rate

import (
	"context"

	"go.uber.org/ratelimit"
)

// Jitter hands out tokens at an average rate of limit/sec but with enough
// buffering that callers racing on Take() don't all fire in lockstep.
type Jitter struct {
	ch    chan struct{}
	l     ratelimit.Limiter
	limit int
}

// NewJitter starts a token provider goroutine bound to ctx. Stop the jitter
// by cancelling ctx; the goroutine exits once its current Take() unblocks.
func NewJitter(ctx context.Context, limit int) *Jitter {
	brst := int(float64(limit) * 0.1)
	if brst < 1 {
		brst = 1
	}
	jitter := &Jitter{
		limit: limit,
		ch:    make(chan struct{}, brst),
		l:     ratelimit.New(limit),
	}
	go jitter.provider(ctx)
	return jitter
}

func (l *Jitter) provider(ctx context.Context) {
	defer close(l.ch)
	for {
		l.l.Take()
		select {
		case <-ctx.Done():
			return
		case l.ch <- struct{}{}:
		}
	}
}

func (l *Jitter) Take() {
	<-l.ch
}

func (l *Jitter) Chan() <-chan struct{} {
	return l.ch
}
