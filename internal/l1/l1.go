// Package l1 implements the in-memory, bounded tier of the cache: a
// MemoryCache interface with three eviction policies (FIFO, LRU, LFU).
package l1

import (
	"fmt"

	"github.com/marekvnovak/tlvcache/config"
	"github.com/marekvnovak/tlvcache/internal/shared/bytes"
)

// Reclaimable may optionally be implemented by a value stored in L1. Live
// reports whether the underlying object is still resident; when it returns
// false the entry's shell remains in the stack until evicted but is treated
// as absent by get/live-contents/eviction notification. Values that do not
// implement Reclaimable are always considered live.
type Reclaimable interface {
	Live() (any, bool)
}

// sameBytes reports whether old and new are byte payloads with identical
// content, letting a re-put of an unchanged payload keep the existing
// buffer instead of retaining a second copy of the same bytes.
func sameBytes(old, new any) bool {
	ob, ok := old.([]byte)
	if !ok {
		return false
	}
	nb, ok := new.([]byte)
	if !ok {
		return false
	}
	return bytes.Equal(ob, nb)
}

func liveValue(v any) (any, bool) {
	if r, ok := v.(Reclaimable); ok {
		return r.Live()
	}
	return v, true
}

// EvictionSink receives (key, value) pairs evicted from L1. It is called
// synchronously from within put, outside the cache's internal lock, and
// only when the evicted value is still live.
type EvictionSink func(key string, value any)

// MemoryCache is the bounded, in-memory L1 tier.
type MemoryCache interface {
	// Put inserts or replaces key's value. Hit count carries over across a
	// replace of the same key. On overflow, exactly one entry is evicted
	// per the cache's policy and handed to the eviction sink if still live.
	Put(key string, value any)

	// Get returns the live value for key, or (nil, false) if absent or
	// reclaimed.
	Get(key string) (any, bool)

	// Remove deletes key if present. It never notifies the eviction sink.
	Remove(key string)

	// Snapshot returns a debug view: key -> "<hits> - <value-or-null>".
	Snapshot() map[string]string

	// LiveContents returns a snapshot of keys to their still-live values,
	// skipping reclaimed entries.
	LiveContents() map[string]any

	// Describe returns a short human-readable status line.
	Describe() string

	// Metrics returns cumulative activity counters for the telemetry reporter.
	Metrics() (puts, gets, hits, evictions int64)

	// Len reports the current entry count.
	Len() int
}

// New constructs the MemoryCache implementation matching strategy.
func New(strategy config.Strategy, memMax int, sink EvictionSink) (MemoryCache, error) {
	switch strategy {
	case config.StrategyFIFO:
		return newOrdered(memMax, sink, false), nil
	case config.StrategyLRU:
		return newOrdered(memMax, sink, true), nil
	case config.StrategyLFU:
		return newLFU(memMax, sink), nil
	default:
		return nil, fmt.Errorf("tlvcache/l1: unsupported strategy %q", strategy)
	}
}
