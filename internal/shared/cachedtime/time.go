// Package cachedtime provides a cheap, periodically-refreshed clock for
// callers that don't need wall-clock precision on every call (the
// coordinator's start timestamp and uptime).
package cachedtime

import (
	"context"
	"sync/atomic"
	"time"
)

const refreshEach = 10 * time.Millisecond

var (
	nowUnix atomic.Int64
	enabled atomic.Bool
)

func init() {
	nowUnix.Store(time.Now().UnixNano())
}

// RunIfEnabled starts the background ticker that refreshes the cached clock
// every refreshEach, until ctx is done. When enable is false it is a no-op
// and Now/UnixNano always read the real clock.
func RunIfEnabled(ctx context.Context, enable bool) {
	if !enable {
		return
	}
	enabled.Store(true)
	ticker := time.NewTicker(refreshEach)
	go func() {
		defer ticker.Stop()
		defer enabled.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			case tt := <-ticker.C:
				nowUnix.Store(tt.UnixNano())
			}
		}
	}()
}

// Now returns the cached time, or time.Now() when caching is disabled.
func Now() time.Time {
	if !enabled.Load() {
		return time.Now()
	}
	return time.Unix(0, nowUnix.Load())
}

// UnixNano returns the cached Unix nanosecond timestamp.
func UnixNano() int64 {
	if !enabled.Load() {
		return time.Now().UnixNano()
	}
	return nowUnix.Load()
}

// Since returns the elapsed time since t, using the cached clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
