package ioadapter

import (
	"sync"

	"github.com/hivecache/hivecache/internal/config"
)

// registeredFD is one occupied slot in a fdTable: a small integer token
// index paired with the handle it was registered for.
type registeredFD struct {
	occupied bool
	handle   any
}

// fdTable maps small integer "mapped fd" tokens to the net.Conn/*os.File
// handle they stand for, the way an io_uring registered-file table maps
// a submission-queue index to a kernel fd without the kernel needing to
// resolve a raw fd on every operation. Go's runtime does its own fd
// bookkeeping internally, so nothing here is load-bearing for I/O
// correctness; it exists so Accept/Dial/OpenFile can hand callers a
// stable small-integer handle for metrics and logging instead of a
// pointer, mirroring the index-based addressing spec.md's io_uring layer
// exposes.
type fdTable struct {
	mu    sync.Mutex
	slots []registeredFD
	hint  uint32
}

func newFDTable(size int) *fdTable {
	n := int(config.NextPow2(uint64(size)))
	if n == 0 {
		n = 1
	}
	return &fdTable{slots: make([]registeredFD, n)}
}

// add registers handle under the first free slot found by linear probing
// forward from the table's rolling hint, and returns its token. ok is
// false only when every slot is occupied.
func (t *fdTable) add(handle any) (token uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := uint32(len(t.slots))
	for i := uint32(0); i < n; i++ {
		idx := (t.hint + i) % n
		if !t.slots[idx].occupied {
			t.slots[idx] = registeredFD{occupied: true, handle: handle}
			t.hint = (idx + 1) % n
			return idx, true
		}
	}
	return 0, false
}

// remove frees token's slot. Removing an already-free or out-of-range
// token is a no-op.
func (t *fdTable) remove(token uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(token) >= len(t.slots) {
		return
	}
	t.slots[token] = registeredFD{}
}

// get returns the handle registered under token, if any.
func (t *fdTable) get(token uint32) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(token) >= len(t.slots) || !t.slots[token].occupied {
		return nil, false
	}
	return t.slots[token].handle, true
}

// registeredFDs is the process-wide table backing Conn/File's mapped-fd
// tokens; one table per process matches spec.md's single io_uring
// registered-file set rather than one per worker.
var registeredFDs = newFDTable(config.RegisteredFDTableSize)
