// Package storagedb implements the per-worker storage facade:
// get/set/delete/rename/flush/scan/random-key operations over
// internal/hashtable, with TTL enforcement, counters, and eviction
// wired in as cross-cutting concerns rather than scattered through every
// operation.
//
// This follows a facade-over-store shape: a struct wrapping a
// lower-level store, exposing a small operation set, with stats and
// lifecycle bookkeeping layered on top.
package storagedb

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/hivecache/hivecache/internal/chunk"
	"github.com/hivecache/hivecache/internal/config"
	"github.com/hivecache/hivecache/internal/counters"
	"github.com/hivecache/hivecache/internal/entryindex"
	"github.com/hivecache/hivecache/internal/eviction"
	"github.com/hivecache/hivecache/internal/hashtable"
)

// ErrKeyNotFound is returned by operations that require an existing key.
var ErrKeyNotFound = errors.New("storagedb: key not found")

// ErrFull is returned when the underlying table has no free slot and
// eviction did not free one in time.
var ErrFull = hashtable.ErrTableFull

// DB is one worker's storage facade over a fixed-capacity hash table of
// *entryindex.Entry[[]byte] values, with per-database counters and a
// configurable eviction policy.
type DB struct {
	table        *hashtable.Table[*entryindex.Entry[[]byte]]
	counters     *counters.ByDatabase
	ring         *entryindex.Ring[[]byte]
	policy       config.Policy
	numDBs       int
	maxChunkSize uint32
	rng          *rand.Rand

	// Write-path shadow bookkeeping for a snapshot run in progress (see
	// BeginSnapshot). Idle outside of a run: snapshotActive false means
	// Set/Delete skip the capture path entirely.
	snapshotActive atomic.Bool
	snapshotStart  atomic.Int64
	visited        []atomic.Uint64
	shadow         []*shadowQueue
}

// New builds a storage facade sized for cfg.MaxKeys with numDatabases
// logical databases (Redis-style SELECT namespaces).
func New(cfg config.Config, numDatabases int) *DB {
	maxChunkSize := cfg.MaxChunkSize
	if maxChunkSize == 0 {
		maxChunkSize = config.DefaultMaxChunkSize
	}
	shadow := make([]*shadowQueue, numDatabases)
	for i := range shadow {
		shadow[i] = newShadowQueue(config.SnapshotShadowQueueCapacity)
	}
	return &DB{
		table:        hashtable.New[*entryindex.Entry[[]byte]](cfg.MaxKeys, hashtable.NewXXHash64()),
		counters:     counters.NewByDatabase(numDatabases),
		ring:         entryindex.NewRing[[]byte](),
		policy:       cfg.EvictionPolicy,
		numDBs:       numDatabases,
		maxChunkSize: maxChunkSize,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		visited:      make([]atomic.Uint64, numDatabases),
		shadow:       shadow,
	}
}

// Counters returns the per-database/global counter set for db.
func (d *DB) Counters(db uint32) *counters.Set { return d.counters.Database(db) }

// Get returns value for key in database db. A logically-expired entry is
// treated as absent and lazily deleted: expired keys are removed on
// next access, and opportunistically during eviction sweeps.
func (d *DB) Get(db uint32, key []byte) ([]byte, bool) {
	e, ok := d.table.Get(db, key)
	if !ok {
		return nil, false
	}
	if e.Expired(time.Now()) {
		d.Delete(db, key)
		return nil, false
	}
	if !e.Acquire() {
		return nil, false
	}
	defer d.release(e)
	e.Touch()
	return e.Value(), true
}

func (d *DB) release(e *entryindex.Entry[[]byte]) {
	if reclaim := e.Release(); reclaim {
		d.ring.Push(e)
	}
}

// Set installs value for key in database db with the given TTL (0 means
// no expiry). If the table has no free slot, one eviction pass is
// attempted before giving up with ErrFull.
func (d *DB) Set(db uint32, key, value []byte, ttl time.Duration) error {
	seq, err := chunk.Split(value, d.maxChunkSize)
	if err != nil {
		return fmt.Errorf("storagedb: %w", err)
	}
	if err := seq.Validate(); err != nil {
		return fmt.Errorf("storagedb: invalid chunk sequence: %w", err)
	}

	entry := entryindex.New(seq.Bytes(), uint32(len(key))+uint32(seq.Len()), ttl)

	prev, existed, ok := d.table.Set(db, key, entry)
	if !ok {
		if d.evictOne(db) {
			prev, existed, ok = d.table.Set(db, key, entry)
		}
		if !ok {
			return ErrFull
		}
	}

	delta := counters.Delta{KeysCount: 1, DataSize: int64(entry.Size()), KeysChanged: 1, DataChanged: 1}
	if existed {
		delta.KeysCount = 0
		delta.DataSize -= int64(prev.Size())
		d.shadowCapture(db, key, prev)
		d.retireLocked(prev)
	}
	d.counters.Apply(db, delta)
	return nil
}

// Delete removes key from database db, returning whether it existed.
func (d *DB) Delete(db uint32, key []byte) bool {
	prev, existed := d.table.Delete(db, key)
	if !existed {
		return false
	}
	d.counters.Apply(db, counters.Delta{KeysCount: -1, DataSize: -int64(prev.Size()), KeysChanged: 1, DataChanged: 1})
	d.shadowCapture(db, key, prev)
	d.retireLocked(prev)
	return true
}

// shadowCapture queues the pre-mutation (key, value) for a snapshot run in
// progress, when the mutated entry was live at the run's start time and its
// bucket has not yet been walked. Outside of a run, or once the walker has
// already passed this bucket, it is a no-op: the scan either never sees
// this entry (so it must not appear), already wrote it with this exact
// value (so queuing again would duplicate it), or will never be asked
// about it again.
func (d *DB) shadowCapture(db uint32, key []byte, e *entryindex.Entry[[]byte]) {
	if !d.snapshotActive.Load() {
		return
	}
	if e.CreatedAtUnixNano() >= d.snapshotStart.Load() {
		return // created after the run started, outside its point-in-time view
	}
	if int(db) >= len(d.shadow) {
		return
	}
	if d.table.BucketOf(key) < d.visited[db].Load() {
		return // walker already passed this bucket with the live value
	}
	d.shadow[db].push(append([]byte(nil), key...), append([]byte(nil), e.Value()...))
}

// BeginSnapshot opens a write-path shadow capture window: every database's
// visited high-water mark and shadow queue is reset, and the instant
// returned becomes the run's point-in-time view — entries created at or
// after it are excluded from the scan. Implements snapshot.ShadowSource.
func (d *DB) BeginSnapshot() (startUnixNano int64) {
	now := time.Now().UnixNano()
	for i := range d.visited {
		d.visited[i].Store(0)
	}
	for _, q := range d.shadow {
		q.reset()
	}
	d.snapshotStart.Store(now)
	d.snapshotActive.Store(true)
	return now
}

// MarkVisited records that db's bucket walk has passed bucket, so later
// writes to already-visited buckets no longer need shadow capture.
// Implements snapshot.ShadowSource.
func (d *DB) MarkVisited(db uint32, bucket uint64) {
	if int(db) < len(d.visited) {
		d.visited[db].Store(bucket)
	}
}

// DrainShadow delivers every shadow-captured (key, value) queued for db to
// fn, removing them from the queue. Implements snapshot.ShadowSource.
func (d *DB) DrainShadow(db uint32, fn func(key, value []byte)) {
	if int(db) < len(d.shadow) {
		d.shadow[db].drain(fn)
	}
}

// EndSnapshot closes the write-path shadow capture window. Implements
// snapshot.ShadowSource.
func (d *DB) EndSnapshot() {
	d.snapshotActive.Store(false)
}

func (d *DB) retireLocked(e *entryindex.Entry[[]byte]) {
	if reclaim := e.MarkDeleted(); reclaim {
		d.ring.Push(e)
	}
}

// Rename moves the value at oldKey to newKey within the same database as
// three separate steps (Get, Set, Delete), so the move is not atomic
// against concurrent writers, and newKey is stored with no expiry. It
// fails with ErrKeyNotFound if oldKey does not exist.
func (d *DB) Rename(db uint32, oldKey, newKey []byte) error {
	v, ok := d.Get(db, oldKey)
	if !ok {
		return ErrKeyNotFound
	}
	if err := d.Set(db, newKey, v, 0); err != nil {
		return err
	}
	d.Delete(db, oldKey)
	return nil
}

// Flush removes every key in database db.
func (d *DB) Flush(db uint32) {
	var toDelete [][]byte
	d.table.Iterate(db, 0, 0, func(_ uint64, key []byte, _ *entryindex.Entry[[]byte]) bool {
		toDelete = append(toDelete, append([]byte(nil), key...))
		return true
	})
	for _, k := range toDelete {
		d.Delete(db, k)
	}
}

// RandomKey returns a uniformly-ish sampled live key from db, or
// ok=false if the database is empty. It first scans a bounded window
// starting at a random bucket; only when that window holds no key of db
// does it go on to walk the rest of the table.
func (d *DB) RandomKey(db uint32) (key []byte, ok bool) {
	if d.table.Capacity() == 0 {
		return nil, false
	}
	start := uint64(d.rng.Int63()) % d.table.Capacity()
	window := config.EvictionCandidatesPerSegment * 4
	visit := func(_ uint64, k []byte, _ *entryindex.Entry[[]byte]) bool {
		key = append([]byte(nil), k...)
		ok = true
		return false
	}
	next := d.table.Iterate(db, start, uint64(window), visit)
	if !ok {
		d.table.Iterate(db, next, 0, visit)
	}
	return key, ok
}

// Scan walks up to maxDistance buckets from cursor, invoking fn for each
// live, non-expired key with its creation instant, and returns the cursor
// to resume from. The creation instant lets a snapshot walker tell which
// entries belong to its point-in-time view.
func (d *DB) Scan(db uint32, cursor, maxDistance uint64, fn func(key, value []byte, createdAtUnixNano int64)) (next uint64) {
	now := time.Now()
	return d.table.Iterate(db, cursor, maxDistance, func(bucket uint64, key []byte, e *entryindex.Entry[[]byte]) bool {
		if d.snapshotActive.Load() && int(db) < len(d.visited) {
			d.visited[db].Store(bucket)
		}
		if e.Expired(now) {
			return true
		}
		fn(key, e.Value(), e.CreatedAtUnixNano())
		return true
	})
}

// evictOne samples a segment of candidates and deletes the worst-ranked
// one under the configured policy. This is the lazy single-key eviction
// Set triggers inline when the table is full; RunEvictionWorker is the
// bulk, externally-triggered counterpart.
func (d *DB) evictOne(db uint32) bool {
	candidates := d.sampleSegment(db, d.policy, false, uint64(d.rng.Int63())%maxu64(d.table.Capacity(), 1))
	if len(candidates) == 0 {
		return false
	}
	return d.Delete(db, eviction.Rank(candidates, 1)[0].KeyBytes)
}

// sampleSegment draws up to EvictionCandidatesPerSegment candidates starting
// at bucket start, ranked under policy. When onlyTTL is set, entries with
// no expiry are skipped entirely (keys_eviction_run_worker's only_ttl mode).
func (d *DB) sampleSegment(db uint32, policy config.Policy, onlyTTL bool, start uint64) []eviction.Candidate {
	var candidates []eviction.Candidate
	now := time.Now()
	d.table.Iterate(db, start, config.EvictionCandidatesPerSegment, func(_ uint64, key []byte, e *entryindex.Entry[[]byte]) bool {
		exp := e.ExpiresAt()
		if onlyTTL && exp.IsZero() {
			return true
		}
		var remaining int64 = math.MaxInt64 // no expiry: sorts last under TTL
		if !exp.IsZero() {
			remaining = exp.Sub(now).Nanoseconds()
		}
		sk := eviction.SortKey(policy, e.AccessCount(), int64(e.Age(now)), remaining, d.rng.Uint32())
		candidates = append(candidates, eviction.Candidate{SortKey: sk, KeyBytes: append([]byte(nil), key...)})
		return true
	})
	return candidates
}

// RunEvictionWorker is keys_eviction_run_worker: it samples EvictionSegments
// segments of EvictionCandidatesPerSegment candidates each across db's
// bucket space, picks each segment's worst-ranked candidate under policy
// (or under the TTL policy when onlyTTL is set, skipping entries with no
// expiry), ranks those segment winners against each other, and deletes up
// to EvictionDeletePerRun of the globally worst-ranked. It returns how many
// keys it actually evicted.
func (d *DB) RunEvictionWorker(db uint32, onlyTTL bool) (evicted int) {
	policy := d.policy
	if onlyTTL {
		policy = config.PolicyTTL
	}

	capacity := maxu64(d.table.Capacity(), 1)
	segments := eviction.SegmentCount(capacity)
	segSpan := maxu64(capacity/maxu64(segments, 1), 1)

	var finalists []eviction.Candidate
	for s := uint64(0); s < segments; s++ {
		start := (s*segSpan + uint64(d.rng.Int63())%segSpan) % capacity
		segCandidates := d.sampleSegment(db, policy, onlyTTL, start)
		if len(segCandidates) == 0 {
			continue
		}
		finalists = append(finalists, eviction.Rank(segCandidates, 1)[0])
	}

	if len(finalists) == 0 {
		return 0
	}
	for _, c := range eviction.Rank(finalists, config.EvictionDeletePerRun) {
		if d.Delete(db, c.KeyBytes) {
			evicted++
		}
	}
	return evicted
}

// ReclaimPass drains a batch of logically-deleted entries from the
// reclamation ring. Intended to be called periodically by a maintenance
// fiber (internal/worker).
func (d *DB) ReclaimPass() int {
	queued := d.ring.Len()
	if queued == 0 {
		return 0
	}
	return d.ring.Drain(entryindex.BatchSize(queued), func(*entryindex.Entry[[]byte]) {})
}

func maxu64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
