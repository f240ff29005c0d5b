// Package counters implements the per-worker-per-database and global
// statistics: one shared Apply helper updates both a database's own
// counters and the global totals, instead of duplicating the update at
// every call site.
//
// This follows a paired per-transfer/aggregate counters shape, updated
// from a single call site rather than two near-identical ones.
package counters

import "sync/atomic"

// Delta is the set of counter adjustments produced by one storagedb
// operation. Fields are signed so a single Delta can express both an
// increment (insert) and a decrement (delete/evict) uniformly.
type Delta struct {
	KeysCount   int64
	DataSize    int64
	KeysChanged int64
	DataChanged int64
}

// Set holds the four running counters: live key count, live byte size,
// and the lifetime mutation counters used for operations/sec style
// reporting.
type Set struct {
	keysCount   atomic.Int64
	dataSize    atomic.Int64
	keysChanged atomic.Int64
	dataChanged atomic.Int64
}

// Apply folds d into s atomically, field by field. Used directly for a
// per-database Set and, via Aggregate, for the global totals in the same
// call.
func (s *Set) Apply(d Delta) {
	if d.KeysCount != 0 {
		s.keysCount.Add(d.KeysCount)
	}
	if d.DataSize != 0 {
		s.dataSize.Add(d.DataSize)
	}
	if d.KeysChanged != 0 {
		s.keysChanged.Add(d.KeysChanged)
	}
	if d.DataChanged != 0 {
		s.dataChanged.Add(d.DataChanged)
	}
}

// Snapshot is a point-in-time, non-atomic read of all four counters.
type Snapshot struct {
	KeysCount   int64
	DataSize    int64
	KeysChanged int64
	DataChanged int64
}

// Read takes a consistent-enough snapshot for reporting purposes: each
// field is read atomically, but the four reads are not mutually
// consistent. Counters are eventually consistent for monitoring, never
// relied on for correctness.
func (s *Set) Read() Snapshot {
	return Snapshot{
		KeysCount:   s.keysCount.Load(),
		DataSize:    s.dataSize.Load(),
		KeysChanged: s.keysChanged.Load(),
		DataChanged: s.dataChanged.Load(),
	}
}

// Aggregate updates both a database-scoped Set and the worker- or
// process-wide global Set with the same delta in one call, collapsing
// "update per-db, then update global" into a single helper instead of
// two near-identical call sites.
func Aggregate(db, global *Set, d Delta) {
	db.Apply(d)
	global.Apply(d)
}

// ByDatabase indexes a Set per logical database number plus one global
// Set, owned by a single worker: each worker owns its own shard of the
// keyspace and its own counters, so there is no cross-worker counter
// contention.
type ByDatabase struct {
	global Set
	dbs    []Set
}

// NewByDatabase allocates counters for numDatabases logical databases.
func NewByDatabase(numDatabases int) *ByDatabase {
	return &ByDatabase{dbs: make([]Set, numDatabases)}
}

// Apply updates database db's counters and the worker-global counters in
// one call.
func (b *ByDatabase) Apply(db uint32, d Delta) {
	Aggregate(&b.dbs[db], &b.global, d)
}

// Database returns the counter Set for one logical database.
func (b *ByDatabase) Database(db uint32) *Set { return &b.dbs[db] }

// Global returns the worker-wide aggregate counter Set.
func (b *ByDatabase) Global() *Set { return &b.global }
