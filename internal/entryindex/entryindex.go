// Package entryindex implements the entry lifecycle: reader-counted
// references over a value stored in internal/hashtable, deferred
// deletion once the last reader drops off, and a bounded reclamation
// ring that queues freed entries for batched draining. Drained entries
// are not reused: New always allocates, and a drained entry is left to
// the garbage collector.
//
// The reference-counted handle follows a manifest-style acquire/release
// pattern; the reclamation ring is drained by a ticker-driven cleanup
// loop.
package entryindex

import (
	"sync/atomic"
	"time"

	"github.com/hivecache/hivecache/internal/config"
)

// statusDeletedBit marks an entry as logically deleted; the low 31 bits
// of the status word count active readers. The LFU access counter is a
// separate field (Entry.access).
const statusDeletedBit uint32 = 1 << 31

// Entry is one cached value's lifecycle record. The hash table in
// internal/hashtable stores *Entry[V] as its value type; the table itself
// never inspects entry fields.
type Entry[V any] struct {
	status  atomic.Uint32 // [deleted:1][readers:31]
	access  atomic.Uint32 // saturating access counter, LFU sort key
	created int64         // unix nanos
	expires int64         // unix nanos, 0 = no expiry
	size    uint32        // logical byte size, for data_size accounting

	value V
}

// New creates an entry that expires ttl from now, or never when ttl is
// zero or negative. It starts with zero readers and not deleted.
func New[V any](value V, size uint32, ttl time.Duration) *Entry[V] {
	e := &Entry[V]{value: value, size: size, created: time.Now().UnixNano()}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl).UnixNano()
	}
	return e
}

// Value returns the stored value.
func (e *Entry[V]) Value() V { return e.value }

// Size returns the entry's accounted byte size.
func (e *Entry[V]) Size() uint32 { return e.size }

// CreatedAtUnixNano returns the entry's creation instant. Used by the
// snapshot walker to decide whether an entry encountered mid-scan belongs
// to a run's point-in-time view.
func (e *Entry[V]) CreatedAtUnixNano() int64 { return e.created }

// Expired reports whether the entry's TTL, if any, has passed asOf.
func (e *Entry[V]) Expired(asOf time.Time) bool {
	exp := e.expires
	return exp != 0 && asOf.UnixNano() >= exp
}

// ExpiresAt returns the absolute expiry time, or the zero Time if none.
func (e *Entry[V]) ExpiresAt() time.Time {
	if e.expires == 0 {
		return time.Time{}
	}
	return time.Unix(0, e.expires)
}

// Touch bumps the LFU access counter (saturating) and returns its new
// value. Called on every read/write that should count toward recency.
func (e *Entry[V]) Touch() uint32 {
	for {
		cur := e.access.Load()
		if cur == ^uint32(0) {
			return cur
		}
		if e.access.CompareAndSwap(cur, cur+1) {
			return cur + 1
		}
	}
}

// AccessCount returns the current LFU counter without bumping it.
func (e *Entry[V]) AccessCount() uint32 { return e.access.Load() }

// Age returns how long ago the entry was created.
func (e *Entry[V]) Age(asOf time.Time) time.Duration {
	return asOf.Sub(time.Unix(0, e.created))
}

// Acquire registers a reader, returning false if the entry has already
// been marked deleted (the caller must then retry the lookup — the slot
// it came from is being replaced or removed).
func (e *Entry[V]) Acquire() bool {
	for {
		cur := e.status.Load()
		if cur&statusDeletedBit != 0 {
			return false
		}
		if e.status.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release drops a reader reference acquired with Acquire. It returns true
// when this was the last reference on a deleted entry, meaning the caller
// that called MarkDeleted is now responsible for reclaiming it.
func (e *Entry[V]) Release() (reclaim bool) {
	for {
		cur := e.status.Load()
		next := cur - 1
		if e.status.CompareAndSwap(cur, next) {
			return next == statusDeletedBit
		}
	}
}

// MarkDeleted flags the entry as logically deleted. It returns true when
// there were zero outstanding readers at the moment of the call, meaning
// the caller may reclaim the entry immediately instead of waiting for a
// Release to do it.
func (e *Entry[V]) MarkDeleted() (reclaimNow bool) {
	for {
		cur := e.status.Load()
		if cur&statusDeletedBit != 0 {
			return false // already marked by someone else
		}
		next := cur | statusDeletedBit
		if e.status.CompareAndSwap(cur, next) {
			return cur == 0
		}
	}
}

// Ring is the bounded reclamation ring: entries that
// lost their last reference are queued here so a background fiber can
// drain them in batches. Drained entries are not handed back to New for
// reuse. When the ring is full, Push falls back to letting the entry be
// collected normally.
type Ring[V any] struct {
	buf  []*Entry[V]
	head atomic.Uint64
	tail atomic.Uint64
}

// NewRing allocates a reclamation ring at the configured capacity.
func NewRing[V any]() *Ring[V] {
	return &Ring[V]{buf: make([]*Entry[V], config.ReclaimRingCapacity)}
}

// Push enqueues a reclaimed entry. ok is false if the ring is momentarily
// full; the caller should simply drop the reference and let the GC do its
// job rather than block.
func (r *Ring[V]) Push(e *Entry[V]) (ok bool) {
	for {
		tail := r.tail.Load()
		head := r.head.Load()
		if tail-head >= uint64(len(r.buf)) {
			return false
		}
		if r.tail.CompareAndSwap(tail, tail+1) {
			r.buf[tail%uint64(len(r.buf))] = e
			return true
		}
	}
}

// Drain removes up to max queued entries, calling fn on each. It returns
// the number drained. Used by a periodic reclamation fiber applying the
// reclaim-min-batch/reclaim-batch-ratio bookkeeping below.
func (r *Ring[V]) Drain(max int, fn func(*Entry[V])) int {
	n := 0
	for n < max {
		head := r.head.Load()
		tail := r.tail.Load()
		if head >= tail {
			break
		}
		if !r.head.CompareAndSwap(head, head+1) {
			continue
		}
		e := r.buf[head%uint64(len(r.buf))]
		r.buf[head%uint64(len(r.buf))] = nil
		fn(e)
		n++
	}
	return n
}

// Len reports the number of entries currently queued for reclamation.
func (r *Ring[V]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// BatchSize computes how many entries a reclamation pass should drain,
// given the ring's current depth: max(reclaim_min_batch,
// reclaim_batch_ratio * queued).
func BatchSize(queued int) int {
	ratio := int(float64(queued) * config.ReclaimBatchRatio)
	if ratio < config.ReclaimMinBatch {
		return config.ReclaimMinBatch
	}
	return ratio
}
