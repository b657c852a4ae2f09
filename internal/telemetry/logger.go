// Package telemetry periodically logs L1/L2 counters and coordinator state
// on behalf of a running cache instance.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/marekvnovak/tlvcache/internal/shared/bytes"
	"github.com/marekvnovak/tlvcache/internal/shared/rate"
)

// startJitterRate is the token rate of the Jitter whose first token releases
// a reporter's loop before its ticker starts. Each reporter builds its own
// Jitter, so reporters created at the same instant are not staggered
// against one another.
const startJitterRate = 50

// StateProvider reports the coordinator's current lifecycle state.
type StateProvider interface {
	State() string
}

// Reporter logs periodic samples of L1/L2 counters. A zero interval disables
// it entirely: New returns a Reporter whose Close is a no-op and that never
// starts a background goroutine.
type Reporter struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
	mem      MemoryCache
	fs       FilesystemCache
	state    StateProvider
	interval time.Duration
}

func New(
	ctx context.Context,
	logger *slog.Logger,
	mem MemoryCache,
	fs FilesystemCache,
	state StateProvider,
	interval time.Duration,
) *Reporter {
	ctx, cancel := context.WithCancel(ctx)
	return (&Reporter{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		mem:      mem,
		fs:       fs,
		state:    state,
		interval: interval,
	}).run()
}

func (r *Reporter) Interval() time.Duration {
	return r.interval
}

func (r *Reporter) Close() error {
	r.cancel()
	return nil
}

func (r *Reporter) run() *Reporter {
	if r.interval > 0 {
		go r.loop()
	}
	return r
}

func (r *Reporter) loop() {
	jitter := rate.NewJitter(r.ctx, startJitterRate)
	select {
	case <-r.ctx.Done():
		return
	case <-jitter.Chan():
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	s := newSampler(r.mem, r.fs)
	prev := s.snapshot()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			cur := s.snapshot()
			d := deltaSnapshot(prev, cur)
			prev = cur

			common := []any{"interval", r.interval.String(), "state", r.state.State()}

			r.logger.Info("l1",
				append(common,
					"size", r.mem.Len(),
					"puts", int64(d.memPuts),
					"gets", int64(d.memGets),
					"hits", int64(d.memHits),
					"evictions", int64(d.memEvictions),
				)...,
			)

			r.logger.Info("l2",
				append(common,
					"puts", int64(d.fsPuts),
					"gets", int64(d.fsGets),
					"removes", int64(d.fsRemoves),
					"rotations", int64(d.fsRotations),
					"files_deleted", int64(d.fsFilesDeleted),
					"bytes_reclaimed", bytes.FmtMem(d.fsBytesReclaimed),
				)...,
			)
		}
	}
}
