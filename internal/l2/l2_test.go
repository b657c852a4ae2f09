package l2

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marekvnovak/tlvcache/config"
)

func newTestSettings(t *testing.T, fsMax int64, fsFiles int) *config.Settings {
	dir := t.TempDir()
	s, err := config.New(config.StrategyLFU, 1000, fsMax, fsFiles, dir)
	require.NoError(t, err)
	return s
}

func pollUntil(t *testing.T, timeout time.Duration, fn func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestFilesystemCache_PutGetRoundTrip(t *testing.T) {
	settings := newTestSettings(t, 10_000, 2)
	c := New(settings)
	require.NoError(t, c.Start())

	c.Put("k", []byte("v"))
	pollUntil(t, time.Second, func() bool {
		_, ok := c.Get("k")
		return ok
	})

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestFilesystemCache_RemoveIsNoopForMissingKey(t *testing.T) {
	settings := newTestSettings(t, 10_000, 2)
	c := New(settings)
	require.NoError(t, c.Start())

	c.Remove("missing") // must not create a tombstone record
	assert.Equal(t, int64(0), c.writable.size.Load())
}

func TestFilesystemCache_NonSerializableValueDropped(t *testing.T) {
	settings := newTestSettings(t, 10_000, 2)
	c := New(settings)
	require.NoError(t, c.Start())

	c.Put("k", 42) // not []byte
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

// Persist (k,v), restart, get(k)==v; then
// remove(k), restart, get(k)==absent.
func TestFilesystemCache_Scenario4_ReplayAcrossRestart(t *testing.T) {
	settings := newTestSettings(t, 10_000, 2)

	c1 := New(settings)
	require.NoError(t, c1.Start())
	c1.Put("k", []byte("v"))
	pollUntil(t, time.Second, func() bool {
		_, ok := c1.Get("k")
		return ok
	})
	c1.Stop(map[string]any{}, nil)

	c2 := New(settings)
	require.NoError(t, c2.Start())
	v, ok := c2.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	c2.Remove("k")
	c2.Stop(map[string]any{}, nil)

	c3 := New(settings)
	require.NoError(t, c3.Start())
	_, ok = c3.Get("k")
	assert.False(t, ok)
}

// With fsFileMax=300, appending records of
// ~110 bytes rotates the writable file; total bytes stay within fsMax and
// the file count is retained within fsFiles.
func TestFilesystemCache_Scenario5_RotationAndRetention(t *testing.T) {
	settings := newTestSettings(t, 3_000, 10) // fsFileMax = 300
	c := New(settings)
	require.NoError(t, c.Start())

	value := make([]byte, 100)
	for i := 0; i < 5; i++ {
		key := "k" + string(rune('0'+i))
		c.Put(key, value)
	}
	pollUntil(t, time.Second, func() bool {
		_, ok := c.Get("k4")
		return ok
	})

	c.mu.Lock()
	total := c.totalBytesLocked()
	fileCount := len(c.nums)
	c.mu.Unlock()

	assert.LessOrEqual(t, total, c.fsMax)
	assert.LessOrEqual(t, fileCount, c.fsFiles)
	assert.Greater(t, fileCount, 1, "5 records of 110 bytes must rotate past a single 300-byte file")
}

// shutdown(0) while a slow task occupies the worker returns false.
func TestFilesystemCache_Scenario6_ShutdownTimesOut(t *testing.T) {
	settings := newTestSettings(t, 10_000, 2)
	c := New(settings)
	require.NoError(t, c.Start())

	block := make(chan struct{})
	started := make(chan struct{})
	c.exec.submit(func() {
		close(started)
		<-block
	})
	<-started

	ok := c.Shutdown(0)
	assert.False(t, ok)
	close(block)
}

func TestFilesystemCache_SmallFileSurvivesReplay(t *testing.T) {
	settings := newTestSettings(t, 500, 2) // fsFileMax = 250

	c1 := New(settings)
	require.NoError(t, c1.Start())
	c1.Put("a", make([]byte, 100))
	pollUntil(t, time.Second, func() bool {
		_, ok := c1.Get("a")
		return ok
	})
	c1.Stop(map[string]any{}, nil)

	c2 := New(settings)
	require.NoError(t, c2.Start())
	_, ok := c2.Get("a")
	assert.True(t, ok, "a file within fsMax must survive replay")
}

// Replay pessimism: when a file fails mid-replay, entries already indexed
// from other files are purged too, so a key whose tombstone lived in the
// failed file cannot be resurrected.
func TestFilesystemCache_ReplayPessimismPurgesPriorIndex(t *testing.T) {
	settings := newTestSettings(t, 10_000, 4)

	c1 := New(settings)
	require.NoError(t, c1.Start())
	c1.Put("a", []byte("1"))
	pollUntil(t, time.Second, func() bool {
		_, ok := c1.Get("a")
		return ok
	})
	c1.Stop(map[string]any{}, nil)

	// Hand-write a second file whose first record has an invalid keyLen.
	path := filepath.Join(settings.FsDir, fileName(2))
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], 0)
	binary.BigEndian.PutUint32(hdr[4:8], 1)
	require.NoError(t, os.WriteFile(path, append(hdr, 'x'), 0o644))

	c2 := New(settings)
	require.NoError(t, c2.Start())
	defer c2.Shutdown(time.Second)

	_, ok := c2.Get("a")
	assert.False(t, ok, "entries indexed before the failed file must be purged")

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "the failed file must be deleted")
}

func TestFilesystemCache_TrailingPartialRecordIgnored(t *testing.T) {
	settings := newTestSettings(t, 10_000, 2)

	c1 := New(settings)
	require.NoError(t, c1.Start())
	c1.Put("a", []byte("1"))
	pollUntil(t, time.Second, func() bool {
		_, ok := c1.Get("a")
		return ok
	})
	c1.Stop(map[string]any{}, nil)

	// Simulate a crash mid-append: a half-written header at the tail.
	path := filepath.Join(settings.FsDir, fileName(1))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	c2 := New(settings)
	require.NoError(t, c2.Start())
	defer c2.Stop(map[string]any{}, nil)

	v, ok := c2.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", string(v))
}
