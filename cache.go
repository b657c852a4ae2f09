// Package tlvcache is a two-level key/value cache for opaque in-process
// objects: a bounded in-memory L1 tier with a pluggable eviction policy
// (FIFO, LRU, or bucketed approximate-LFU) over a bounded, file-backed,
// append-only L2 tier that absorbs L1 evictions and restores them across
// restarts. The Cache type is the coordinator stitching the two tiers
// together behind a small lifecycle state machine.
package tlvcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/marekvnovak/tlvcache/config"
	"github.com/marekvnovak/tlvcache/internal/l1"
	"github.com/marekvnovak/tlvcache/internal/l2"
	"github.com/marekvnovak/tlvcache/internal/shared/cachedtime"
	"github.com/marekvnovak/tlvcache/internal/telemetry"
)

// Cache routes put/get/remove across the two tiers. All methods are safe
// for concurrent use. Data-plane methods are silent no-ops outside the
// Working state.
type Cache struct {
	cfg    *config.Settings
	logger *slog.Logger

	mem l1.MemoryCache
	fs  *l2.FilesystemCache

	state     atomic.Int32
	startedAt atomic.Int64 // unix nanos, set on entering Working
	reporter  *telemetry.Reporter
	cls       context.CancelFunc
}

// New wires a Cache in the Created state: an L1 of cfg.Strategy whose
// eviction sink feeds L2's persistence queue, plus the telemetry reporter
// when cfg enables it. It returns a *config.ConfigError on invalid
// settings. Call Start before use.
func New(ctx context.Context, cfg *config.Settings, logger *slog.Logger) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	cachedtime.RunIfEnabled(ctx, cfg.CachedClockEnabled)

	sink := &evictionSink{}
	mem, err := l1.New(cfg.Strategy, cfg.MemMax, sink.onEvicted)
	if err != nil {
		cancel()
		return nil, err
	}

	c := &Cache{
		cfg:    cfg,
		logger: logger,
		mem:    mem,
		fs:     l2.New(cfg),
		cls:    cancel,
	}
	c.state.Store(int32(Created))
	sink.bind(c)
	c.reporter = telemetry.New(ctx, logger, mem, c.fs, stateLabel{c}, time.Duration(cfg.TelemetryLogsInterval))
	return c, nil
}

// stateLabel adapts Cache's typed state to the string the reporter logs.
type stateLabel struct{ c *Cache }

func (s stateLabel) State() string { return s.c.State().String() }

// Start replays L2's log files into its index and transitions
// Created -> Starting -> Working. A fatal replay failure transitions to
// Stopped and is returned as a *StartError.
func (c *Cache) Start() error {
	if !c.transition(Created, Starting) {
		return &LifecycleError{Op: "start", From: c.State()}
	}
	c.logger.Info("tlvcache starting",
		"strategy", string(c.cfg.Strategy),
		"memMax", c.cfg.MemMax,
		"fsDir", c.cfg.FsDir,
	)
	if err := c.fs.Start(); err != nil {
		c.state.Store(int32(Stopped))
		return &StartError{Err: err}
	}
	c.startedAt.Store(cachedtime.UnixNano())
	c.state.Store(int32(Working))
	return nil
}

// Put stores value under key in L1 and synchronously invalidates any L2
// shadow of the key, so a later Get can never observe a stale L2 value.
// Empty keys and calls outside Working are dropped.
func (c *Cache) Put(key string, value any) {
	if c.State() != Working || key == "" {
		return
	}
	c.mem.Put(key, value)
	c.fs.Remove(key)
}

// Get reads L1 first and falls through to L2 on a miss. L2 hits are
// returned as the []byte the host originally serialized.
func (c *Cache) Get(key string) (any, bool) {
	if c.State() != Working {
		return nil, false
	}
	if v, ok := c.mem.Get(key); ok {
		return v, true
	}
	if b, ok := c.fs.Get(key); ok {
		return b, true
	}
	return nil, false
}

// Remove deletes key from both tiers.
func (c *Cache) Remove(key string) {
	if c.State() != Working {
		return
	}
	c.mem.Remove(key)
	c.fs.Remove(key)
}

// Stop performs an orderly shutdown: Working -> Stopping, flush every
// still-live L1 entry to L2 (best effort), close all file handles, then
// Stopped. onStopped runs once the flush has drained. Stop blocks until
// the drain completes.
func (c *Cache) Stop(onStopped func()) error {
	if !c.transition(Working, Stopping) {
		return &LifecycleError{Op: "stop", From: c.State()}
	}
	snapshot := c.mem.LiveContents()
	c.logger.Info("tlvcache stopping", "flushEntries", len(snapshot))
	c.fs.Stop(snapshot, func() {
		c.state.Store(int32(Stopped))
		c.cls()
		if onStopped != nil {
			onStopped()
		}
	})
	return nil
}

// Shutdown aborts the persistence worker without flushing L1, discarding
// any queued backlog, and waits up to timeout for it to exit. It reports
// whether the worker terminated in time; on false the cache is left in
// Stopping. A *LifecycleError is returned when the cache is not Working.
func (c *Cache) Shutdown(timeout time.Duration) (bool, error) {
	if !c.transition(Working, Stopping) {
		return false, &LifecycleError{Op: "shutdown", From: c.State()}
	}
	c.logger.Info("tlvcache shutting down", "timeout", timeout.String())
	ok := c.fs.Shutdown(timeout)
	if ok {
		c.state.Store(int32(Stopped))
	}
	c.cls()
	return ok, nil
}

// Close makes Cache usable with defer: an abnormal shutdown with a short
// grace period. Idempotent.
func (c *Cache) Close() error {
	if c.State() == Working {
		_, _ = c.Shutdown(time.Second)
	}
	c.cls()
	return nil
}

// State returns the current lifecycle state.
func (c *Cache) State() State { return State(c.state.Load()) }

// Settings returns the configuration the cache was built with.
func (c *Cache) Settings() *config.Settings { return c.cfg }

// MemSnapshot returns L1's debug view, or an empty map outside Working.
func (c *Cache) MemSnapshot() map[string]string {
	if c.State() != Working {
		return map[string]string{}
	}
	return c.mem.Snapshot()
}

// FsSnapshot returns L2's debug view, or an empty map outside Working.
func (c *Cache) FsSnapshot() map[string]string {
	if c.State() != Working {
		return map[string]string{}
	}
	return c.fs.Snapshot()
}

// Describe returns a one-line status string covering both tiers.
func (c *Cache) Describe() string {
	var uptime time.Duration
	if at := c.startedAt.Load(); at > 0 {
		uptime = cachedtime.Since(time.Unix(0, at)).Round(time.Second)
	}
	return fmt.Sprintf("state = %s, uptime = %s, memory [%s], filesystem [%s]",
		c.State(), uptime, c.mem.Describe(), c.fs.Describe())
}

func (c *Cache) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}
