package hashtable

// Resizing is explicitly out of scope for this version: the table is
// allocated once at next_pow2(configured_max_keys). htCurrent/htOld
// below reserve the shape a future incremental-resize design would need
// without committing to one — in particular, Iterate's bucket-index
// addressing must stay stable across a resize so the snapshot engine's
// block partitioning keeps working, which rules out a naive "allocate
// bigger, rehash everything" approach under load.
//
// TODO(resize): design and implement incremental resize preserving
// Iterate's bucket order guarantee for internal/snapshot.
type resizeState[V any] struct {
	htCurrent *Table[V]
	htOld     *Table[V]
}
