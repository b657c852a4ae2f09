package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeMem struct{}

func (fakeMem) Len() int                                     { return 3 }
func (fakeMem) Metrics() (puts, gets, hits, evictions int64) { return 10, 20, 15, 2 }

type fakeFs struct{}

func (fakeFs) Metrics() (puts, gets, removes, rotations, filesDeleted, bytesReclaimed int64) {
	return 5, 6, 1, 1, 0, 2048
}

type fakeState struct{}

func (fakeState) State() string { return "Working" }

// syncBuffer lets the test read what the reporter goroutine wrote.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReporter_LogsBothTiers(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, nil))

	r := New(context.Background(), logger, fakeMem{}, fakeFs{}, fakeState{}, 5*time.Millisecond)
	defer r.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := out.String()
		if strings.Contains(s, `"msg":"l1"`) && strings.Contains(s, `"msg":"l2"`) {
			assert.Contains(t, s, `"state":"Working"`)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("reporter never logged both tiers")
}

func TestReporter_ZeroIntervalIsDisabled(t *testing.T) {
	out := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, nil))

	r := New(context.Background(), logger, fakeMem{}, fakeFs{}, fakeState{}, 0)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, out.String())
	assert.NoError(t, r.Close())
}

func TestDeltaSnapshot(t *testing.T) {
	prev := snapshot{memPuts: 10, fsBytesReclaimed: 100}
	cur := snapshot{memPuts: 15, fsBytesReclaimed: 100}
	d := deltaSnapshot(prev, cur)
	assert.Equal(t, uint64(5), d.memPuts)
	assert.Equal(t, uint64(0), d.fsBytesReclaimed)

	// counter went backwards: treat cur as the delta
	d = deltaSnapshot(snapshot{memGets: 50}, snapshot{memGets: 7})
	assert.Equal(t, uint64(7), d.memGets)
}
