package hashtable

import "github.com/cespare/xxhash/v2"

// NewXXHash64 returns the process-wide key hash function used to derive
// bucket index and half-hash. Any hash good enough to use consistently
// across workers would do (t1ha2, xxh3, CRC32C); this engine
// standardizes on xxhash rather than hand-rolling one.
func NewXXHash64() Hash64 {
	return xxhash.Sum64
}
