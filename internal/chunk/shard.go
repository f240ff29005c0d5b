package chunk

// Shard models the file-backend persisted-state layout: a fixed-size
// file region into which chunk payloads are appended monotonically,
// owned by a single worker while active and rotated when full. It is
// reserved structurally for an on-disk value backend (a directory of
// db-<index>.shard files) but is intentionally unimplemented here.
//
// TODO(file-backend): append-only Shard writer/reader plus a garbage
// collector for reclaimed regions — the RDB snapshot and memory-backend
// hash table do not need it, and building the writer/reader without the
// collector would leak disk space forever, so it is left as an explicit
// open question rather than a half-finished implementation.
type Shard struct {
	Path     string
	Capacity uint64
	used     uint64
}
