package l1

import "sync/atomic"

// counters tracks cumulative L1 activity for Describe/Metrics.
type counters struct {
	puts      atomic.Int64
	gets      atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	removes   atomic.Int64
	evictions atomic.Int64
	reclaims  atomic.Int64
}

func (c *counters) snapshot() (puts, gets, hits, misses, removes, evictions, reclaims int64) {
	return c.puts.Load(), c.gets.Load(), c.hits.Load(), c.misses.Load(),
		c.removes.Load(), c.evictions.Load(), c.reclaims.Load()
}
