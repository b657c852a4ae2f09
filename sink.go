package tlvcache

import "sync/atomic"

// evictionSink forwards L1 evictions into L2's persistence queue. L1 needs
// the sink at its own construction, before the coordinator exists, so the
// back reference is late-bound through an atomic slot instead of a
// construction-time cycle.
type evictionSink struct {
	coord atomic.Pointer[Cache]
}

func (s *evictionSink) bind(c *Cache) { s.coord.Store(c) }

func (s *evictionSink) onEvicted(key string, value any) {
	if c := s.coord.Load(); c != nil {
		c.fs.Put(key, value)
	}
}
