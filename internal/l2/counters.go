package l2

import "sync/atomic"

// counters tracks cumulative L2 activity for Describe/Metrics.
type counters struct {
	puts           atomic.Int64
	gets           atomic.Int64
	removes        atomic.Int64
	rotations      atomic.Int64
	filesDeleted   atomic.Int64
	bytesReclaimed atomic.Int64
}

func (c *counters) snapshot() (puts, gets, removes, rotations, filesDeleted, bytesReclaimed int64) {
	return c.puts.Load(), c.gets.Load(), c.removes.Load(),
		c.rotations.Load(), c.filesDeleted.Load(), c.bytesReclaimed.Load()
}
