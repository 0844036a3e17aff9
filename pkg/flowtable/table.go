package flowtable

import (
	"container/heap"
	"time"

	"github.com/tlsflow/tlsflow/pkg/flowkey"
)

// Table is one context's flow table: an associative store from a
// normalized flowkey.Key to a Record, with bounded memory and
// expiration scanning. It is NOT threadsafe — per spec.md §4.2 each
// context's table is mutated only by that context's own worker.
type Table struct {
	bidir bool
	nat   bool

	records map[string]*entry
	lru     lastSeenHeap

	highWaterMark int
	evicted       int
}

type entry struct {
	rec       *Record
	key       string // normalized storage key, for map deletion
	heapIndex int
}

// Option configures a new Table.
type Option func(*Table)

// WithBidir enables bidirectional mode: the two directions of a flow
// are stored as separate records, reunited at output time via TwinOf.
func WithBidir(b bool) Option { return func(t *Table) { t.bidir = b } }

// WithNAT enables NAT-resilient key normalization.
func WithNAT(b bool) Option { return func(t *Table) { t.nat = b } }

// WithHighWaterMark bounds the number of live records; beyond it, the
// table evicts the oldest (by last-seen) record on every insert.
func WithHighWaterMark(n int) Option { return func(t *Table) { t.highWaterMark = n } }

// New creates an empty Table.
func New(opts ...Option) *Table {
	t := &Table{records: make(map[string]*entry)}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Len returns the number of live records.
func (t *Table) Len() int { return len(t.records) }

// EvictedCount returns the number of records dropped so far due to
// the high-water-mark policy.
func (t *Table) EvictedCount() int { return t.evicted }

func (t *Table) storageKey(key flowkey.Key) flowkey.Key {
	if t.bidir {
		if t.nat {
			return key.NATResilient()
		}
		return key
	}
	if t.nat {
		return key.NATResilient()
	}
	return key.Canonical()
}

// LookupOrCreate returns the record for key, creating it if absent.
// created reports whether a new record was allocated. If the table is
// over its high-water mark after insertion, the oldest-by-last-seen
// record is evicted synchronously and returned, finalized, as evicted
// — per spec.md §4.2 "the oldest by last-seen are evicted (and
// emitted) first", the caller must emit it through the same sink path
// as expired/drained records rather than discard it.
func (t *Table) LookupOrCreate(key flowkey.Key, now time.Time) (rec *Record, created bool, evicted *Record) {
	sk := t.storageKey(key)
	skb := string(sk.Bytes())

	if e, ok := t.records[skb]; ok {
		e.rec.LastSeen = now
		heap.Fix(&t.lru, e.heapIndex)
		return e.rec, false, nil
	}

	rec = &Record{Key: sk, FirstSeen: now, LastSeen: now}
	e := &entry{rec: rec, key: skb}
	t.records[skb] = e
	heap.Push(&t.lru, e)

	if t.highWaterMark > 0 && len(t.records) > t.highWaterMark {
		evicted = t.evictOldest()
	}
	return rec, true, evicted
}

// TwinOf returns the opposite-direction record of key under
// bidirectional mode, or nil if none exists (or the table is not in
// bidirectional mode, in which case there is nothing to reunite —
// one record already holds both directions' counters).
func (t *Table) TwinOf(key flowkey.Key) *Record {
	if !t.bidir {
		return nil
	}
	rk := key
	if t.nat {
		rk = key.NATResilient()
	}
	rk = rk.Reverse()
	if e, ok := t.records[string(rk.Bytes())]; ok {
		return e.rec
	}
	return nil
}

// ScanExpired removes and returns every record that has either been
// idle for longer than idleTimeout, or — when preemptive is true and
// has had no application payload for preemptiveIdle — is judged
// application-idle, or has observed a clean TCP termination.
func (t *Table) ScanExpired(now time.Time, idleTimeout time.Duration, preemptive bool, preemptiveIdle time.Duration) []*Record {
	var out []*Record
	for skb, e := range t.records {
		rec := e.rec
		expired := rec.IdleSince(now) > idleTimeout || rec.Terminated()
		if !expired && preemptive {
			expired = rec.ApplicationIdleSince(now) > preemptiveIdle
		}
		if expired {
			rec.Finalize()
			out = append(out, rec)
			t.remove(skb, e)
		}
	}
	return out
}

// Drain removes and returns every live record, used at shutdown to
// flush the table per spec.md §3 "Lifecycle" (c).
func (t *Table) Drain() []*Record {
	out := make([]*Record, 0, len(t.records))
	for skb, e := range t.records {
		e.rec.Finalize()
		out = append(out, e.rec)
		t.remove(skb, e)
	}
	return out
}

func (t *Table) remove(skb string, e *entry) {
	delete(t.records, skb)
	if e.heapIndex >= 0 && e.heapIndex < t.lru.Len() && t.lru[e.heapIndex] == e {
		heap.Remove(&t.lru, e.heapIndex)
	}
}

// evictOldest pops the least-recently-seen entry, finalizes its
// record, and returns it for emission.
func (t *Table) evictOldest() *Record {
	if t.lru.Len() == 0 {
		return nil
	}
	e := heap.Pop(&t.lru).(*entry)
	delete(t.records, e.key)
	t.evicted++
	e.rec.Finalize()
	return e.rec
}

// lastSeenHeap is a container/heap min-heap over *entry ordered by
// the wrapped record's LastSeen, used for high-water-mark eviction
// (spec.md §4.2: "the oldest by last-seen are evicted first"). No
// third-party priority-queue library appears anywhere in the
// retrieval pack, so this uses the standard library's container/heap
// — see DESIGN.md.
type lastSeenHeap []*entry

func (h lastSeenHeap) Len() int { return len(h) }
func (h lastSeenHeap) Less(i, j int) bool {
	return h[i].rec.LastSeen.Before(h[j].rec.LastSeen)
}
func (h lastSeenHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *lastSeenHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *lastSeenHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}
