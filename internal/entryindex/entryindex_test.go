package entryindex

import (
	"testing"
	"time"
)

func TestAcquireReleaseLifecycle(t *testing.T) {
	e := New("payload", 7, 0)

	if !e.Acquire() {
		t.Fatal("Acquire on fresh entry should succeed")
	}
	if reclaim := e.MarkDeleted(); reclaim {
		t.Fatal("MarkDeleted should not reclaim immediately with an active reader")
	}
	if e.Acquire() {
		t.Fatal("entry already marked deleted must reject new Acquire")
	}

	// balance the first, legitimate Acquire; it was the last reader of a
	// deleted entry, so Release hands reclamation to the caller
	if reclaim := e.Release(); !reclaim {
		t.Fatal("releasing the last reader of a deleted entry must report reclaim")
	}
}

func TestExpiry(t *testing.T) {
	e := New(1, 0, 10*time.Millisecond)
	now := time.Now()
	if e.Expired(now) {
		t.Fatal("entry should not be expired immediately")
	}
	if !e.Expired(now.Add(20 * time.Millisecond)) {
		t.Fatal("entry should be expired after its TTL elapses")
	}
}

func TestNoExpiry(t *testing.T) {
	e := New(1, 0, 0)
	if e.Expired(time.Now().Add(1000 * time.Hour)) {
		t.Fatal("zero TTL entry must never expire")
	}
}

func TestTouchSaturates(t *testing.T) {
	e := New(1, 0, 0)
	e.access.Store(^uint32(0))
	if got := e.Touch(); got != ^uint32(0) {
		t.Fatalf("Touch should saturate at max uint32, got %d", got)
	}
}

func TestRingPushDrain(t *testing.T) {
	r := NewRing[int]()
	for i := 0; i < 5; i++ {
		if !r.Push(New(i, 0, 0)) {
			t.Fatalf("push %d should succeed", i)
		}
	}
	if r.Len() != 5 {
		t.Fatalf("len = %d, want 5", r.Len())
	}

	var drained []int
	n := r.Drain(3, func(e *Entry[int]) { drained = append(drained, e.Value()) })
	if n != 3 || len(drained) != 3 {
		t.Fatalf("drained %d entries, want 3", n)
	}
	if r.Len() != 2 {
		t.Fatalf("len after drain = %d, want 2", r.Len())
	}
}

func TestBatchSize(t *testing.T) {
	if got := BatchSize(0); got < 1 {
		t.Fatalf("BatchSize(0) = %d, want at least reclaim_min_batch", got)
	}
	if got := BatchSize(1_000_000); got <= 1000 {
		t.Fatalf("BatchSize(1_000_000) = %d, want scaling above the minimum", got)
	}
}
