// Package hashtable implements the concurrent MCMP (multi-consumer
// multi-producer) open-addressing hash table: buckets grouped into
// 14-wide half-hash chunks for SIMD-style candidate filtering, with
// optimistic lock-free reads and per-chunk write locks.
//
// The value slot is a generic opaque value. A raw uintptr-in-uint64
// cast is not memory-safe under a moving/precise Go GC, so the opaque
// word is replaced with a type parameter the caller instantiates with
// its own owned-pointer type. The table itself never interprets V;
// internal/storagedb instantiates it with *entryindex.Entry and owns
// all lifecycle decisions about what a value means — the hash table
// itself knows nothing about entry indices.
//
// Concurrency and bucket/chunk layout follow a bucket-locking routing
// table structure and a seqlock (changes-counter) retry discipline.
package hashtable

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"

	"github.com/hivecache/hivecache/internal/config"
)

// SlotsPerChunk is the fixed SIMD-compared half-hash chunk width. It is
// a contract, not a tuning knob.
const SlotsPerChunk = config.BucketsPerChunk

// emptyHalfHash is the sentinel meaning "this slot holds nothing". A real
// half-hash that happens to compute to zero is remapped to zeroHalfHashSub
// so that zero can keep this single meaning.
const emptyHalfHash uint32 = 0
const zeroHalfHashSub uint32 = 0xFFFFFFFF

// Hash64 hashes a key to a full 64-bit value. The bucket index is derived
// from the upper bits, the half-hash from the lower 32. Any hash good
// enough to use process-wide works here; this engine uses xxhash (see
// NewXXHash64 in hash.go).
type Hash64 func(key []byte) uint64

// hasAVX2 reports whether the process can take the wide compare path. No
// portable Go expresses hand-written AVX2 intrinsics without assembly, so
// both paths below are the same branchless comparison loop; hasAVX2 exists
// so Stats() can truthfully report which capability class the process is
// running under, falling back to scalar comparison reporting when SIMD
// isn't available.
var hasAVX2 = cpuid.CPU.Supports(cpuid.AVX2)

type slot[V any] struct {
	dbNumber    uint32
	keyLen      int
	keyInline   [config.InlineKeyThreshold]byte
	keyOverflow []byte // non-nil only when keyLen > InlineKeyThreshold
	value       V
}

func (s *slot[V]) setKey(key []byte) {
	s.keyLen = len(key)
	if len(key) <= config.InlineKeyThreshold {
		copy(s.keyInline[:], key)
		s.keyOverflow = nil
		return
	}
	s.keyOverflow = append([]byte(nil), key...)
}

func (s *slot[V]) keyEquals(db uint32, key []byte) bool {
	if s.dbNumber != db || s.keyLen != len(key) {
		return false
	}
	if s.keyOverflow != nil {
		return bytes.Equal(s.keyOverflow, key)
	}
	return bytes.Equal(s.keyInline[:s.keyLen], key)
}

func (s *slot[V]) keyBytes() []byte {
	if s.keyOverflow != nil {
		return s.keyOverflow
	}
	return append([]byte(nil), s.keyInline[:s.keyLen]...)
}

func (s *slot[V]) clear() {
	var zeroV V
	s.dbNumber = 0
	s.keyLen = 0
	s.keyOverflow = nil
	s.value = zeroV
}

// chunkCtl is one cache-aligned control block for SlotsPerChunk buckets:
// a write-lock, a changes counter for optimistic reads, the
// overflowed-chunks-count used to bound probing, and the half-hash array.
type chunkCtl struct {
	mu        sync.Mutex
	changes   atomic.Uint32
	overflow  atomic.Uint32
	halfHash  [SlotsPerChunk]atomic.Uint32
}

// Table is the concurrent (database, key) -> V store.
type Table[V any] struct {
	hash        Hash64
	bucketCount uint64
	chunkCount  uint64
	ctl         []chunkCtl
	slots       []slot[V]
}

// New allocates a table sized to hold maxKeys entries, rounded up to the
// next power of two, once at construction time. Resizing is out of
// scope (see resize.go).
func New[V any](maxKeys uint64, hash Hash64) *Table[V] {
	bucketCount := config.NextPow2(maxKeys)
	chunkCount := (bucketCount + SlotsPerChunk - 1) / SlotsPerChunk

	t := &Table[V]{
		hash:        hash,
		bucketCount: bucketCount,
		chunkCount:  chunkCount,
		ctl:         make([]chunkCtl, chunkCount),
		slots:       make([]slot[V], chunkCount*SlotsPerChunk),
	}
	return t
}

// Capacity returns the table's fixed bucket count (next_pow2(max_keys)).
func (t *Table[V]) Capacity() uint64 { return t.bucketCount }

// BucketOf returns the home bucket index key hashes to, the same index
// Iterate walks in. Used by the snapshot write-path shadow to decide
// whether a mutated key's bucket has already been walked by an in-progress
// run.
func (t *Table[V]) BucketOf(key []byte) uint64 {
	full := t.hash(key)
	return (full >> 32) & (t.bucketCount - 1)
}

// SIMDEnabled reports whether the process supports the wide compare class.
func (t *Table[V]) SIMDEnabled() bool { return hasAVX2 }

func normalizeHalfHash(h uint32) uint32 {
	if h == emptyHalfHash {
		return zeroHalfHashSub
	}
	return h
}

func (t *Table[V]) locate(key []byte) (homeChunk uint64, half uint32) {
	full := t.hash(key)
	half = normalizeHalfHash(uint32(full))
	bucketIdx := (full >> 32) & (t.bucketCount - 1)
	homeChunk = bucketIdx / SlotsPerChunk
	return
}

// compareHalfHashes returns a 16-bit mask (only the low SlotsPerChunk bits
// meaningful) of lanes equal to target. Written branchlessly so it
// autovectorizes on SIMD-capable targets; see hasAVX2's doc comment.
func compareHalfHashes(lanes *[SlotsPerChunk]atomic.Uint32, target uint32) uint16 {
	var mask uint16
	for i := 0; i < SlotsPerChunk; i++ {
		if lanes[i].Load() == target {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// chunkSlots returns the slot range backing chunk index c.
func (t *Table[V]) chunkSlots(c uint64) []slot[V] {
	return t.slots[c*SlotsPerChunk : (c+1)*SlotsPerChunk]
}

// Get performs a lock-free optimistic search.
func (t *Table[V]) Get(db uint32, key []byte) (V, bool) {
	home, half := t.locate(key)

	maxProbe := t.ctl[home].overflow.Load()
	for probe := uint32(0); ; probe++ {
		chunkIdx := (home + uint64(probe)) % t.chunkCount
		ctl := &t.ctl[chunkIdx]
		slots := t.chunkSlots(chunkIdx)

		for {
			c1 := ctl.changes.Load()
			mask := compareHalfHashes(&ctl.halfHash, half)

			found := -1
			for mask != 0 {
				i := trailingZeros16(mask)
				mask &^= 1 << uint(i)
				if slots[i].keyEquals(db, key) {
					found = i
					break
				}
			}

			c2 := ctl.changes.Load()
			if c1 != c2 {
				continue // writer raced us; restart this chunk's read
			}
			if found >= 0 {
				return slots[found].value, true
			}
			break
		}

		if probe >= maxProbe {
			break
		}
	}

	var zero V
	return zero, false
}

func trailingZeros16(x uint16) int {
	n := 0
	for x&1 == 0 {
		x >>= 1
		n++
	}
	return n
}

// Set installs value for (db, key), creating the slot if absent. It
// returns the previous value (if any existed) so the caller — which owns
// value semantics, not the table — can reclaim it. ok is false only when
// the bounded probe distance was exhausted without finding an empty
// slot; the caller may retry after other workers release slots.
func (t *Table[V]) Set(db uint32, key []byte, value V) (previous V, existed bool, ok bool) {
	h := t.BeginRMW(db, key)
	if h.err != nil {
		var zero V
		return zero, false, false
	}
	prev, existed := h.found, h.exists
	h.CommitUpdate(value)
	return prev, existed, true
}

// Delete removes (db, key), returning the previous value if it existed so
// the caller can reclaim it. Neighbouring slots are never reorganized.
func (t *Table[V]) Delete(db uint32, key []byte) (previous V, existed bool) {
	h := t.BeginRMW(db, key)
	if h.err != nil {
		var zero V
		return zero, false
	}
	if !h.exists {
		h.Abort()
		var zero V
		return zero, false
	}
	prev := h.found
	h.CommitDelete()
	return prev, true
}

// Iterate walks buckets for database db starting at startBucket, invoking
// fn for each occupied slot with its physical bucket index, stopping after
// maxDistance buckets have been examined. It returns the bucket index to
// resume from on the next call. Iteration is not a consistent snapshot:
// entries may be inserted, moved, or deleted while it proceeds.
func (t *Table[V]) Iterate(db uint32, startBucket, maxDistance uint64, fn func(bucket uint64, key []byte, value V) bool) (nextBucket uint64) {
	// Walk every physical slot, including the tail of the last chunk past
	// bucketCount, which holds keys that probed beyond the last home bucket.
	total := uint64(len(t.slots))
	if maxDistance == 0 || maxDistance > total {
		maxDistance = total
	}

	b := startBucket % total
	for i := uint64(0); i < maxDistance; i++ {
		chunkIdx := b / SlotsPerChunk
		slotIdx := b % SlotsPerChunk
		s := &t.chunkSlots(chunkIdx)[slotIdx]

		if t.ctl[chunkIdx].halfHash[slotIdx].Load() != emptyHalfHash && s.dbNumber == db {
			if !fn(b, s.keyBytes(), s.value) {
				return (b + 1) % total
			}
		}

		b = (b + 1) % total
	}
	return b
}
