// Package transaction implements the per-fiber transaction handle: a
// monotonically increasing (worker_index, transaction_index) pair plus
// an owned list of lock slots currently held, released en bloc in
// reverse order on Release.
//
// The handle is an explicit value held by the caller rather than a
// thread-local "current transaction" global. The worker's connection loop
// begins and releases one per command; storage DB operations do not take
// it as a parameter.
package transaction

import "sync/atomic"

// ID identifies a transaction by the worker that created it and a
// per-worker monotonic counter.
type ID struct {
	Worker int
	Index  uint64
}

// Txn is a single logical operation's lock-holding scope.
type Txn struct {
	id   ID
	held []func()
}

// counters is one monotonic transaction-index counter per worker slot,
// avoiding a shared atomic that would bounce between worker cache lines.
var counters []atomic.Uint64

// Init allocates per-worker counters. Called once at startup with the
// configured worker count.
func Init(workers int) {
	counters = make([]atomic.Uint64, workers)
}

// Begin acquires a new transaction for the given worker. Begin →
// zero-or-more lock acquisitions → Release is the expected lifecycle.
func Begin(worker int) *Txn {
	idx := counters[worker].Add(1)
	return &Txn{id: ID{Worker: worker, Index: idx}}
}

// ID returns the transaction's (worker, index) identity.
func (t *Txn) ID() ID { return t.id }

// Record appends an unlock callback to the list of held locks. Callers
// hand in the unlock closure returned by whatever acquired the lock (a hash
// table chunk lock, most commonly).
func (t *Txn) Record(unlock func()) {
	t.held = append(t.held, unlock)
}

// Release unlocks every recorded slot in reverse acquisition order and
// clears the transaction so it cannot be reused.
func (t *Txn) Release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i]()
	}
	t.held = nil
}
