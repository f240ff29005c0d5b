package eviction

import (
	"testing"

	"github.com/hivecache/hivecache/internal/config"
)

func TestRankAscendingOrder(t *testing.T) {
	var cands []Candidate
	keys := []uint64{50, 3, 900, 1, 42, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17}
	for i, k := range keys {
		cands = append(cands, Candidate{Bucket: uint64(i), SortKey: k})
	}

	ranked := Rank(cands, 4)
	if len(ranked) != 4 {
		t.Fatalf("got %d ranked candidates, want 4", len(ranked))
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].SortKey < ranked[i-1].SortKey {
			t.Fatalf("ranked output not ascending at %d: %v", i, ranked)
		}
	}
	if ranked[0].SortKey != 1 {
		t.Fatalf("smallest key should rank first, got %d", ranked[0].SortKey)
	}
}

func TestRankPartialSegment(t *testing.T) {
	cands := []Candidate{{SortKey: 5}, {SortKey: 1}, {SortKey: 3}}
	ranked := Rank(cands, 10)
	if len(ranked) != 3 {
		t.Fatalf("got %d, want 3 (bounded by input size)", len(ranked))
	}
	if ranked[0].SortKey != 1 || ranked[2].SortKey != 5 {
		t.Fatalf("unexpected order: %v", ranked)
	}
}

func TestSortKeyTTLExpiredFirst(t *testing.T) {
	expired := SortKey(config.PolicyTTL, 0, 0, -1, 0)
	alive := SortKey(config.PolicyTTL, 0, 0, 1000, 0)
	if expired >= alive {
		t.Fatalf("expired key %d should sort before alive key %d", expired, alive)
	}
}

func TestSortKeyLRUUsesAge(t *testing.T) {
	younger := SortKey(config.PolicyLRU, 0, 100, 0, 0)
	older := SortKey(config.PolicyLRU, 0, 100000, 0, 0)
	if older >= younger {
		t.Fatal("older entries should have a smaller LRU sort key, so they are evicted first")
	}
}

func TestSegmentCountBounds(t *testing.T) {
	if got := SegmentCount(1); got != 1 {
		t.Fatalf("tiny table should yield at least 1 segment, got %d", got)
	}
	if got := SegmentCount(1 << 30); got != config.EvictionSegments {
		t.Fatalf("large table should cap at EvictionSegments, got %d", got)
	}
}
