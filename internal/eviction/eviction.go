// Package eviction implements candidate sampling and ranking for the
// four eviction policies (RANDOM, LRU, LFU, TTL): sample a fixed-width
// segment of candidates, rank them with a 16-wide bitonic sorting
// network, and evict from the head of the ranking (the lowest keys).
//
// The sampling approach operates on a small fixed window under a narrow
// lock rather than scanning the whole table; the sorting network itself
// is hand-rolled, a fixed well-known circuit rather than an algorithm
// worth a dependency.
package eviction

import (
	"math/bits"

	"github.com/hivecache/hivecache/internal/config"
)

// Candidate is one sampled key considered for eviction.
type Candidate struct {
	Bucket   uint64
	SortKey  uint64 // meaning depends on Policy: recency, frequency, or TTL
	KeyBytes []byte
}

// sortNetworkSize is the fixed width of the bitonic network;
// EvictionCandidatesPerSegment is required to equal it.
const sortNetworkSize = 16

func init() {
	if config.EvictionCandidatesPerSegment != sortNetworkSize {
		panic("eviction: EvictionCandidatesPerSegment must match the 16-wide bitonic network")
	}
}

// SortKey computes the ranking key for a candidate under policy p. Lower
// keys are evicted first in all four policies, so the TTL policy uses
// "time remaining" directly and the LRU policy inverts age, putting the
// oldest entries first. Entries keep no last-access time, so LRU ranks by
// time since creation.
func SortKey(policy config.Policy, accessCount uint32, ageNanos int64, ttlRemainingNanos int64, random uint32) uint64 {
	switch policy {
	case config.PolicyLFU:
		return uint64(accessCount)
	case config.PolicyLRU:
		return ^uint64(ageNanos)
	case config.PolicyTTL:
		if ttlRemainingNanos < 0 {
			return 0 // already expired: evict first
		}
		return uint64(ttlRemainingNanos) // smallest remaining TTL sorts first
	default: // PolicyRandom
		return uint64(random)
	}
}

// bitonicSort16 sorts a fixed 16-element array in ascending key order
// using a compare-and-swap network: the sequence of compared pairs is
// fixed and does not depend on the data; only each swap does.
func bitonicSort16(c *[16]Candidate) {
	for k := 2; k <= 16; k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			for i := 0; i < 16; i++ {
				l := i ^ j
				if l <= i {
					continue
				}
				ascending := (i & k) == 0
				if (c[i].SortKey > c[l].SortKey) == ascending {
					c[i], c[l] = c[l], c[i]
				}
			}
		}
	}
}

// Rank sorts candidates ascending by SortKey and returns the n with the
// smallest keys — the eviction order for whichever policy computed those
// keys. candidates shorter than 16 entries are padded with sentinel
// maximum-key entries before sorting and trimmed back afterward, so
// partially-filled segments (near table capacity) still rank correctly.
func Rank(candidates []Candidate, n int) []Candidate {
	var window [sortNetworkSize]Candidate
	for i := range window {
		window[i].SortKey = ^uint64(0)
	}
	count := copy(window[:], candidates)

	bitonicSort16(&window)

	if n > count {
		n = count
	}
	out := make([]Candidate, n)
	copy(out, window[:n])
	return out
}

// PopCountMask reports how many of the low `width` bits of mask are set.
// Nothing in this module calls it.
func PopCountMask(mask uint32, width int) int {
	return bits.OnesCount32(mask & (1<<uint(width) - 1))
}

// SegmentCount returns how many fixed-width segments a table of the
// given bucket count is divided into for sampling.
func SegmentCount(bucketCount uint64) uint64 {
	segs := bucketCount / config.EvictionCandidatesPerSegment
	if segs == 0 {
		return 1
	}
	if segs > config.EvictionSegments {
		return config.EvictionSegments
	}
	return segs
}
