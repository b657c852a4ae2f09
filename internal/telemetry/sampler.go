package telemetry

// MemoryCache is the subset of the L1 store the reporter needs to sample.
type MemoryCache interface {
	Len() int
	Metrics() (puts, gets, hits, evictions int64)
}

// FilesystemCache is the subset of the L2 store the reporter needs to sample.
type FilesystemCache interface {
	Metrics() (puts, gets, removes, rotations, filesDeleted, bytesReclaimed int64)
}

type sampler struct {
	mem MemoryCache
	fs  FilesystemCache
}

func newSampler(mem MemoryCache, fs FilesystemCache) sampler {
	return sampler{mem: mem, fs: fs}
}

// snapshot holds cumulative counters (monotonic).
type snapshot struct {
	memPuts      uint64
	memGets      uint64
	memHits      uint64
	memEvictions uint64

	fsPuts           uint64
	fsGets           uint64
	fsRemoves        uint64
	fsRotations      uint64
	fsFilesDeleted   uint64
	fsBytesReclaimed uint64
}

func (s sampler) snapshot() snapshot {
	mPuts, mGets, mHits, mEvictions := s.mem.Metrics()
	fPuts, fGets, fRemoves, fRotations, fFilesDeleted, fBytesReclaimed := s.fs.Metrics()

	return snapshot{
		memPuts:      uint64(max(mPuts, 0)),
		memGets:      uint64(max(mGets, 0)),
		memHits:      uint64(max(mHits, 0)),
		memEvictions: uint64(max(mEvictions, 0)),

		fsPuts:           uint64(max(fPuts, 0)),
		fsGets:           uint64(max(fGets, 0)),
		fsRemoves:        uint64(max(fRemoves, 0)),
		fsRotations:      uint64(max(fRotations, 0)),
		fsFilesDeleted:   uint64(max(fFilesDeleted, 0)),
		fsBytesReclaimed: uint64(max(fBytesReclaimed, 0)),
	}
}

// deltaSnapshot converts cumulative snapshots to per-interval deltas. If a
// counter decreased (process-local reset), it treats cur as the delta.
func deltaSnapshot(prev, cur snapshot) snapshot {
	return snapshot{
		memPuts:      delta(prev.memPuts, cur.memPuts),
		memGets:      delta(prev.memGets, cur.memGets),
		memHits:      delta(prev.memHits, cur.memHits),
		memEvictions: delta(prev.memEvictions, cur.memEvictions),

		fsPuts:           delta(prev.fsPuts, cur.fsPuts),
		fsGets:           delta(prev.fsGets, cur.fsGets),
		fsRemoves:        delta(prev.fsRemoves, cur.fsRemoves),
		fsRotations:      delta(prev.fsRotations, cur.fsRotations),
		fsFilesDeleted:   delta(prev.fsFilesDeleted, cur.fsFilesDeleted),
		fsBytesReclaimed: delta(prev.fsBytesReclaimed, cur.fsBytesReclaimed),
	}
}

func delta(prev, cur uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}
