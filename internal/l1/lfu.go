package l1

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// bucketWidths is the series of per-hitch widths used to build the LFU
// stack's 256 sentinels: each width w contributes w hitches of that width
// (one of width 1, two of width 2, four of width 4, ..., 128 of width 128),
// followed by one final catch-all hitch.
var bucketWidths = []uint32{1, 2, 4, 8, 16, 32, 64, 128}

// lfuNode is either a hitch sentinel ([hitsMin, hitsMax] bounds, no key) or
// a data entry (key/value/hits, no bounds), linked into one shared stack.
type lfuNode struct {
	prev, next *lfuNode

	isHitch          bool
	hitsMin, hitsMax uint32

	key   string
	value any
	hits  atomic.Uint32
}

// lfu is the bucketed approximate-LFU policy: a doubly linked list of 256
// hitch sentinels plus data entries, with
// eviction sweeping from the lowest bucket and promoting mis-bucketed
// entries as it goes.
type lfu struct {
	mu sync.Mutex // guards the stack structure and entriesCount

	m sync.Map // key -> *lfuNode, lock-free reads

	top     *lfuNode
	hitches []*lfuNode // sorted ascending by hitsMax, for ceiling lookup

	entriesCount int
	memMax       int
	sink         EvictionSink
	counters     counters
}

func newLFU(memMax int, sink EvictionSink) *lfu {
	l := &lfu{memMax: memMax, sink: sink}

	var cur uint32
	for _, w := range bucketWidths {
		for i := uint32(0); i < w; i++ {
			h := &lfuNode{isHitch: true, hitsMin: cur, hitsMax: cur + w - 1}
			l.hitches = append(l.hitches, h)
			cur += w
		}
	}
	l.hitches = append(l.hitches, &lfuNode{isHitch: true, hitsMin: cur, hitsMax: math.MaxUint32})

	for i := 1; i < len(l.hitches); i++ {
		l.hitches[i-1].next = l.hitches[i]
		l.hitches[i].prev = l.hitches[i-1]
	}
	l.top = l.hitches[0]

	return l
}

func (l *lfu) ceilingHitch(hits uint32) *lfuNode {
	i := sort.Search(len(l.hitches), func(i int) bool { return l.hitches[i].hitsMax >= hits })
	if i == len(l.hitches) {
		i = len(l.hitches) - 1
	}
	return l.hitches[i]
}

func insertAfter(node, target *lfuNode) {
	node.prev = target
	node.next = target.next
	if target.next != nil {
		target.next.prev = node
	}
	target.next = node
}

func unlink(node *lfuNode) {
	if node.prev != nil {
		node.prev.next = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	}
	node.prev, node.next = nil, nil
}

func (l *lfu) Put(key string, value any) {
	l.counters.puts.Add(1)

	if cur, ok := l.m.Load(key); ok && sameBytes(cur.(*lfuNode).value, value) {
		// Unchanged payload: the resident node already carries these bytes
		// in the right stack slot with the right hit count.
		return
	}

	newNode := &lfuNode{key: key, value: value}

	prev, loaded := l.m.Swap(key, newNode)

	var evictedKey string
	var evictedValue any
	var evictedNode *lfuNode
	evicted := false

	l.mu.Lock()
	if loaded {
		p := prev.(*lfuNode)
		newNode.hits.Store(p.hits.Load())
		if p.prev == nil {
			// p was evicted between the map swap and taking the lock;
			// fall back to a fresh insert.
			loaded = false
		} else {
			insertAfter(newNode, p.prev)
			unlink(p)
		}
	}
	if !loaded {
		if l.entriesCount >= l.memMax {
			if victim := l.removeLeastFrequentLocked(); victim != nil {
				evictedKey, evictedValue = victim.key, victim.value
				evictedNode = victim
				evicted = true
			}
		} else {
			l.entriesCount++
		}
		insertAfter(newNode, l.top)
	}
	l.mu.Unlock()

	if evicted {
		// The evicted key may have been re-put concurrently; only delete
		// the mapping if it still points at the victim node.
		l.m.CompareAndDelete(evictedKey, evictedNode)
		l.counters.evictions.Add(1)
		if live, ok := liveValue(evictedValue); ok {
			if l.sink != nil {
				l.sink(evictedKey, live)
			}
		} else {
			l.counters.reclaims.Add(1)
		}
	}
}

// removeLeastFrequentLocked is the eviction sweep: walk rightward
// from top, promoting entries that outgrew their bucket, and evicting the
// first entry that still fits the bucket it is standing in. Must be called
// with mu held.
func (l *lfu) removeLeastFrequentLocked() *lfuNode {
	currHitch := l.top
	cursor := l.top.next

	for cursor != nil {
		if cursor.isHitch {
			currHitch = cursor
			cursor = cursor.next
			continue
		}
		if cursor.hits.Load() <= currHitch.hitsMax {
			unlink(cursor)
			return cursor
		}
		moving := cursor
		cursor = cursor.next
		unlink(moving)
		insertAfter(moving, l.ceilingHitch(moving.hits.Load()))
	}
	return nil
}

func (l *lfu) Get(key string) (any, bool) {
	l.counters.gets.Add(1)

	v, ok := l.m.Load(key)
	if !ok {
		l.counters.misses.Add(1)
		return nil, false
	}
	node := v.(*lfuNode)
	node.hits.Add(1)

	live, ok := liveValue(node.value)
	if !ok {
		l.counters.reclaims.Add(1)
		l.counters.misses.Add(1)
		return nil, false
	}
	l.counters.hits.Add(1)
	return live, true
}

func (l *lfu) Remove(key string) {
	l.counters.removes.Add(1)
	v, ok := l.m.LoadAndDelete(key)
	if !ok {
		return
	}
	node := v.(*lfuNode)
	l.mu.Lock()
	if node.prev != nil { // still linked; an eviction may have beaten us
		unlink(node)
		l.entriesCount--
	}
	l.mu.Unlock()
}

func (l *lfu) Snapshot() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, l.entriesCount)
	for n := l.top.next; n != nil; n = n.next {
		if n.isHitch {
			continue
		}
		live, ok := liveValue(n.value)
		if !ok {
			out[n.key] = fmt.Sprintf("%d - null", n.hits.Load())
			continue
		}
		out[n.key] = fmt.Sprintf("%d - %v", n.hits.Load(), live)
	}
	return out
}

func (l *lfu) LiveContents() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]any, l.entriesCount)
	for n := l.top.next; n != nil; n = n.next {
		if n.isHitch {
			continue
		}
		if live, ok := liveValue(n.value); ok {
			out[n.key] = live
		}
	}
	return out
}

func (l *lfu) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entriesCount
}

func (l *lfu) Metrics() (puts, gets, hits, evictions int64) {
	puts, gets, hits, _, _, evictions, _ = l.counters.snapshot()
	return
}

func (l *lfu) Describe() string {
	puts, gets, hits, misses, removes, evictions, reclaims := l.counters.snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "l1[LFU] len=%d/%d puts=%d gets=%d hits=%d misses=%d removes=%d evictions=%d reclaims=%d",
		l.Len(), l.memMax, puts, gets, hits, misses, removes, evictions, reclaims)
	return b.String()
}
