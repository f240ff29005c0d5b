package hashtable

import (
	"errors"

	"github.com/hivecache/hivecache/internal/config"
)

// ErrTableFull is returned when the search-or-create path cannot find a
// free slot within the bounded probe distance. Callers may retry after
// another worker releases slots.
var ErrTableFull = errors.New("hashtable: no free slot within probe bound")

// RMWHandle is the read-modify-write handshake: Begin locks the owning
// chunk and returns the current value (if any); the
// caller computes a new value and calls exactly one of CommitUpdate,
// CommitDelete, or Abort. The chunk lock is held across the whole
// round-trip, so concurrent RMWs on the same chunk serialize.
type RMWHandle[V any] struct {
	table *Table[V]

	chunkIdx uint64
	slotIdx  int
	ctl      *chunkCtl
	half     uint32
	db       uint32
	key      []byte

	found  V
	exists bool
	err    error
	done   bool

	// homeChunk/distance are only meaningful when !exists: they record
	// where to bump overflowed_chunks_count on commit.
	homeChunk uint64
	distance  uint32
}

// Err returns the error that aborted BeginRMW (currently only
// ErrTableFull), or nil.
func (h *RMWHandle[V]) Err() error { return h.err }

// Found reports whether the key already existed and, if so, its value.
func (h *RMWHandle[V]) Found() (V, bool) { return h.found, h.exists }

// BeginRMW locks the chunk owning (db, key) — or, if the key is absent,
// the chunk where it would be inserted — and returns a handle the caller
// must resolve with CommitUpdate, CommitDelete, or Abort.
func (t *Table[V]) BeginRMW(db uint32, key []byte) *RMWHandle[V] {
	home, half := t.locate(key)
	maxProbe := t.ctl[home].overflow.Load()

	// Phase 1: locked search across the existing overflow chain.
	var chunkIdx uint64
	var ctl *chunkCtl
	for probe := uint32(0); ; probe++ {
		chunkIdx = (home + uint64(probe)) % t.chunkCount
		ctl = &t.ctl[chunkIdx]
		ctl.mu.Lock()

		slots := t.chunkSlots(chunkIdx)
		for i := 0; i < SlotsPerChunk; i++ {
			if ctl.halfHash[i].Load() == half && slots[i].keyEquals(db, key) {
				return &RMWHandle[V]{
					table: t, chunkIdx: chunkIdx, slotIdx: i, ctl: ctl,
					half: half, db: db, key: key,
					found: slots[i].value, exists: true,
				}
			}
		}

		if probe >= maxProbe {
			break // ctl stays locked; fall through to phase 2 from here
		}
		ctl.mu.Unlock()
	}

	// Phase 2: not found. Walk forward looking for an empty slot, locking
	// one chunk at a time and releasing the previous as we go.
	cur := chunkIdx
	curCtl := ctl
	for extra := uint32(0); ; extra++ {
		slots := t.chunkSlots(cur)
		for i := 0; i < SlotsPerChunk; i++ {
			if curCtl.halfHash[i].Load() == emptyHalfHash {
				return &RMWHandle[V]{
					table: t, chunkIdx: cur, slotIdx: i, ctl: curCtl,
					half: half, db: db, key: key, exists: false,
					homeChunk: home, distance: maxProbe + extra,
				}
			}
		}

		if maxProbe+extra >= config.MaxOverflowChunks {
			curCtl.mu.Unlock()
			return &RMWHandle[V]{err: ErrTableFull}
		}

		next := (cur + 1) % t.chunkCount
		nextCtl := &t.ctl[next]
		nextCtl.mu.Lock()
		curCtl.mu.Unlock()
		cur, curCtl = next, nextCtl
	}
}

// CommitUpdate installs value into the locked slot (creating it if it did
// not exist) and releases the chunk lock. It returns the previous value
// and whether one existed, so the caller — which owns value lifecycle, not
// the table — can reclaim it.
func (h *RMWHandle[V]) CommitUpdate(value V) (previous V, existed bool) {
	if h.done {
		panic("hashtable: RMW handle resolved twice")
	}
	h.done = true

	slots := h.table.chunkSlots(h.chunkIdx)
	s := &slots[h.slotIdx]
	previous, existed = s.value, h.exists

	if !h.exists {
		s.setKey(h.key)
		s.dbNumber = h.db
		s.value = value
		// Publish the half-hash only after the key bytes and value are
		// visible: the atomic Store here is the store-release half of the
		// fence guaranteeing readers never see a half-hash match before
		// the key it belongs to.
		h.ctl.halfHash[h.slotIdx].Store(h.half)
		if h.distance > 0 {
			bumpOverflow(&h.table.ctl[h.homeChunk], h.distance)
		}
	} else {
		s.value = value
	}

	h.ctl.changes.Add(1)
	h.ctl.mu.Unlock()
	return previous, existed
}

// CommitDelete zeroes the slot's half-hash, frees the key bytes, and
// does not reorganize neighbouring slots; it releases the chunk lock
// and returns the previous value so the caller can reclaim it.
func (h *RMWHandle[V]) CommitDelete() (previous V, existed bool) {
	if h.done {
		panic("hashtable: RMW handle resolved twice")
	}
	h.done = true

	previous, existed = h.found, h.exists
	if h.exists {
		slots := h.table.chunkSlots(h.chunkIdx)
		h.ctl.halfHash[h.slotIdx].Store(emptyHalfHash)
		slots[h.slotIdx].clear()
		h.ctl.changes.Add(1)
	}

	h.ctl.mu.Unlock()
	return previous, existed
}

// Abort releases the chunk lock without making any change.
func (h *RMWHandle[V]) Abort() {
	if h.done {
		return
	}
	h.done = true
	h.ctl.mu.Unlock()
}

func bumpOverflow(ctl *chunkCtl, distance uint32) {
	for {
		cur := ctl.overflow.Load()
		if cur >= distance {
			return
		}
		if ctl.overflow.CompareAndSwap(cur, distance) {
			return
		}
	}
}
