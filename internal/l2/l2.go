// Package l2 implements the durable, file-backed tier of the cache: an
// append-only log store spread across numbered files, a position index, a
// single-writer persistence executor, file rotation, and oldest-file
// retention.
package l2

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marekvnovak/tlvcache/config"
	"github.com/marekvnovak/tlvcache/internal/codec"
)

// queueCapacity is the persistence executor's bounded task queue capacity.
const queueCapacity = 100

// FilesystemCache is the L2 tier.
type FilesystemCache struct {
	dir       string
	fsMax     int64
	fsFiles   int
	fsFileMax int64

	mu       sync.Mutex // serializes append, rotation, and retention
	files    map[uint32]*logFile
	nums     []uint32 // ascending, mirrors the files present on disk
	writable *logFile

	idx  *positionIndex
	exec *executor
	log  zerolog.Logger

	counters counters
	started  atomic.Bool
}

// New constructs a FilesystemCache from validated Settings. Call Start
// before using it.
func New(settings *config.Settings) *FilesystemCache {
	return &FilesystemCache{
		dir:       settings.FsDir,
		fsMax:     settings.FsMax,
		fsFiles:   settings.FsFiles,
		fsFileMax: settings.FsFileMax(),
		files:     make(map[uint32]*logFile),
		idx:       newPositionIndex(),
		exec:      newExecutor(queueCapacity),
		log:       log.With().Str("component", "l2").Str("dir", settings.FsDir).Logger(),
	}
}

func serialize(value any) ([]byte, bool) {
	b, ok := value.([]byte)
	return b, ok
}

// Start replays fsDir's log files into the position index, opens the
// newest file for writing, and starts the persistence executor.
func (c *FilesystemCache) Start() error {
	nums, err := c.discoverFiles()
	if err != nil {
		return &IoError{Op: "readdir", Path: c.dir, Err: err}
	}

	// Newest first, greedily accept until fsMax would be exceeded.
	sort.Slice(nums, func(i, j int) bool { return nums[i] > nums[j] })

	var accepted []uint32
	var cumulative int64
	overBudget := false
	for _, n := range nums {
		info, statErr := os.Stat(filepath.Join(c.dir, fileName(n)))
		if statErr != nil {
			c.log.Warn().Err(statErr).Uint32("file", n).Msg("stat failed during replay scan, skipping")
			continue
		}
		if overBudget || cumulative+info.Size() > c.fsMax {
			overBudget = true
			c.log.Info().Uint32("file", n).Msg("rejecting log file beyond fsMax budget, deleting")
			_ = os.Remove(filepath.Join(c.dir, fileName(n)))
			continue
		}
		cumulative += info.Size()
		accepted = append(accepted, n)
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i] < accepted[j] })

	for _, n := range accepted {
		lf, openErr := openLogFileReadOnly(c.dir, n)
		if openErr != nil {
			c.log.Error().Err(openErr).Uint32("file", n).Msg("open failed during replay, dropping file and index")
			c.idx.reset()
			_ = os.Remove(filepath.Join(c.dir, fileName(n)))
			continue
		}
		if replayErr := c.replayFile(lf); replayErr != nil {
			c.log.Error().Err(replayErr).Uint32("file", n).Msg("replay failed, dropping file and index")
			c.idx.reset()
			_ = lf.close()
			// Leaving the corrupt file on disk would let a later rotation
			// reuse its number and append past untracked bytes.
			_ = os.Remove(lf.path)
			continue
		}
		c.files[n] = lf
		c.nums = append(c.nums, n)
	}

	if len(c.nums) == 0 {
		lf, createErr := createLogFile(c.dir, 1)
		if createErr != nil {
			return &IoError{Op: "create", Path: filepath.Join(c.dir, fileName(1)), Err: createErr}
		}
		c.files[1] = lf
		c.nums = []uint32{1}
		c.writable = lf
	} else {
		newest := c.nums[len(c.nums)-1]
		lf := c.files[newest]
		if reErr := lf.reopenWritable(); reErr != nil {
			return &IoError{Op: "reopen", Path: lf.path, Err: reErr}
		}
		c.writable = lf
	}

	c.exec.start()
	c.started.Store(true)
	return nil
}

func (c *FilesystemCache) discoverFiles() ([]uint32, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var nums []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := parseFileNumber(e.Name()); ok {
			nums = append(nums, n)
		}
	}
	return nums, nil
}

// replayFile forward-scans lf's records into the index. A header or body
// read that runs off the end of the file mid-record is a trailing partial
// record from a crash and is ignored, not an error.
func (c *FilesystemCache) replayFile(lf *logFile) error {
	f, err := os.Open(lf.path)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var offset int64

	for {
		keyLen, valueLen, err := codec.DecodeHeader(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		recordStart := offset
		body := make([]byte, keyLen+valueLen)
		n, err := io.ReadFull(br, body)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		key := codec.DecodeKey(body[:keyLen])
		if codec.IsTombstone(valueLen) {
			c.idx.delete(key)
		} else {
			c.idx.set(key, position{
				file:   lf.number,
				offset: recordStart + codec.HeaderLen,
				size:   int64(keyLen) + int64(valueLen),
			})
		}
		offset = recordStart + codec.HeaderLen + int64(n)
	}
}

// Put enqueues an asynchronous append of key/value. Non-serializable
// values are logged and dropped.
func (c *FilesystemCache) Put(key string, value any) {
	if !c.started.Load() {
		return
	}
	data, ok := serialize(value)
	if !ok {
		c.log.Warn().Err(ErrNotSerializable).Str("key", key).Msg("dropping put")
		return
	}
	c.exec.submit(func() { c.persistEntry(key, data) })
}

func (c *FilesystemCache) persistEntry(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := codec.Encode(key, data, nil, int(c.fsFileMax))
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("record too big, dropping")
		return
	}
	if err := c.rotateIfNeededLocked(len(rec)); err != nil {
		c.log.Error().Err(err).Msg("rotation failed, dropping write")
		return
	}
	offset, err := c.writable.append(rec)
	if err != nil {
		c.log.Error().Err(&IoError{Op: "append", Path: c.writable.path, Err: err}).Msg("append failed")
		return
	}
	c.counters.puts.Add(1)
	c.idx.set(key, position{
		file:   c.writable.number,
		offset: offset + codec.HeaderLen,
		size:   int64(len(key)) + int64(len(data)),
	})
}

// Get is synchronous: it looks up the index and, on a hit, reads the
// record's body directly from the owning file via a positional read.
func (c *FilesystemCache) Get(key string) ([]byte, bool) {
	c.counters.gets.Add(1)
	if !c.started.Load() {
		return nil, false
	}
	pos, ok := c.idx.get(key)
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	lf, ok := c.files[pos.file]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	buf := make([]byte, pos.size)
	if err := lf.readAt(buf, pos.offset); err != nil {
		c.log.Warn().Err(&IoError{Op: "read", Path: lf.path, Err: err}).Str("key", key).Msg("read failed")
		return nil, false
	}
	if len(key) > len(buf) {
		return nil, false
	}
	return buf[len(key):], true
}

// Remove is synchronous: a tombstone is appended under the L2 lock only if
// the key was indexed; otherwise it is a no-op, so misses never grow the
// log.
func (c *FilesystemCache) Remove(key string) {
	if !c.started.Load() {
		return
	}
	if _, ok := c.idx.get(key); !ok {
		return
	}
	c.idx.delete(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := codec.Encode(key, nil, nil, int(c.fsFileMax))
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("tombstone too big, dropping")
		return
	}
	if err := c.rotateIfNeededLocked(len(rec)); err != nil {
		c.log.Error().Err(err).Msg("rotation failed, dropping tombstone")
		return
	}
	if _, err := c.writable.append(rec); err != nil {
		c.log.Error().Err(&IoError{Op: "append", Path: c.writable.path, Err: err}).Msg("tombstone append failed")
		return
	}
	c.counters.removes.Add(1)
}

// rotateIfNeededLocked must be called with mu held.
func (c *FilesystemCache) rotateIfNeededLocked(recLen int) error {
	if c.writable.size.Load()+int64(recLen) <= c.fsFileMax {
		return nil
	}
	if err := c.retainWithinLimitsLocked(); err != nil {
		return err
	}
	next := c.writable.number + 1
	lf, err := createLogFile(c.dir, next)
	if err != nil {
		return err
	}
	c.writable.writable = false
	c.files[next] = lf
	c.nums = append(c.nums, next)
	c.writable = lf
	c.counters.rotations.Add(1)
	return nil
}

// retainWithinLimitsLocked retires oldest files until adding one more
// full-sized file would stay within both budgets, guarding against ever
// retiring the currently writable file. Must be
// called with mu held.
func (c *FilesystemCache) retainWithinLimitsLocked() error {
	for {
		if c.totalBytesLocked()+c.fsFileMax <= c.fsMax && len(c.nums) < c.fsFiles {
			return nil
		}
		if len(c.nums) == 0 {
			return nil
		}
		oldest := c.nums[0]
		if c.writable != nil && oldest == c.writable.number {
			return nil
		}
		lf := c.files[oldest]
		reclaimed := lf.size.Load()
		if err := lf.close(); err != nil {
			c.log.Warn().Err(err).Uint32("file", oldest).Msg("close before retire failed")
		}
		if err := os.Remove(lf.path); err != nil {
			c.log.Warn().Err(&IoError{Op: "remove", Path: lf.path, Err: err}).Msg("retire delete failed")
		}
		delete(c.files, oldest)
		c.nums = c.nums[1:]
		c.idx.deleteByFile(oldest)
		c.counters.filesDeleted.Add(1)
		c.counters.bytesReclaimed.Add(reclaimed)
	}
}

func (c *FilesystemCache) totalBytesLocked() int64 {
	var total int64
	for _, n := range c.nums {
		total += c.files[n].size.Load()
	}
	return total
}

// Stop performs an orderly shutdown: it submits one final flush of
// snapshot (skipping non-serializable or too-big entries), drains the
// executor, closes every handle, then invokes onStopped.
func (c *FilesystemCache) Stop(snapshot map[string]any, onStopped func()) {
	c.exec.beginDrain()
	c.exec.submit(func() { c.flushSnapshot(snapshot) })
	c.exec.drain()
	c.closeAllFiles()
	c.started.Store(false)
	if onStopped != nil {
		onStopped()
	}
}

func (c *FilesystemCache) flushSnapshot(snapshot map[string]any) {
	for key, value := range snapshot {
		data, ok := serialize(value)
		if !ok {
			c.log.Warn().Err(ErrNotSerializable).Str("key", key).Msg("skipping flush entry")
			continue
		}
		c.persistEntry(key, data)
	}
}

// Shutdown interrupts the executor immediately, discarding any queued
// backlog, closes every handle, and waits up to timeout for the worker to
// exit. It reports whether termination completed in time.
func (c *FilesystemCache) Shutdown(timeout time.Duration) bool {
	ok := c.exec.abort(timeout)
	c.closeAllFiles()
	c.started.Store(false)
	return ok
}

func (c *FilesystemCache) closeAllFiles() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, lf := range c.files {
		if err := lf.close(); err != nil {
			c.log.Warn().Err(&IoError{Op: "close", Path: lf.path, Err: err}).Msg("close failed")
		}
	}
}

// Snapshot returns a debug view: key -> "file - [offset, size]".
func (c *FilesystemCache) Snapshot() map[string]string {
	out := make(map[string]string)
	for _, key := range c.idx.keys() {
		pos, ok := c.idx.get(key)
		if !ok {
			continue
		}
		out[key] = fmt.Sprintf("%s - [%d, %d]", fileName(pos.file), pos.offset, pos.size)
	}
	return out
}

// Metrics returns cumulative activity counters for the telemetry reporter.
func (c *FilesystemCache) Metrics() (puts, gets, removes, rotations, filesDeleted, bytesReclaimed int64) {
	return c.counters.snapshot()
}

// Describe returns a short human-readable status line.
func (c *FilesystemCache) Describe() string {
	c.mu.Lock()
	total := c.totalBytesLocked()
	files := len(c.nums)
	c.mu.Unlock()
	return fmt.Sprintf("l2 dir=%s files=%d/%d bytes=%d/%d keys=%d",
		c.dir, files, c.fsFiles, total, c.fsMax, c.idx.len())
}
