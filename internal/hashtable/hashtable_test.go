package hashtable

import (
	"fmt"
	"testing"
)

func newTestTable(maxKeys uint64) *Table[int] {
	return New[int](maxKeys, NewXXHash64())
}

func TestSetGetDelete(t *testing.T) {
	tbl := newTestTable(1024)

	if _, ok := tbl.Get(0, []byte("foo")); ok {
		t.Fatal("expected miss on empty table")
	}

	if _, existed, ok := tbl.Set(0, []byte("foo"), 42); !ok || existed {
		t.Fatalf("unexpected Set result: existed=%v ok=%v", existed, ok)
	}

	v, ok := tbl.Get(0, []byte("foo"))
	if !ok || v != 42 {
		t.Fatalf("got (%v, %v), want (42, true)", v, ok)
	}

	if prev, existed, ok := tbl.Set(0, []byte("foo"), 43); !ok || !existed || prev != 42 {
		t.Fatalf("update: got (%v, %v, %v), want (42, true, true)", prev, existed, ok)
	}

	if prev, existed := tbl.Delete(0, []byte("foo")); !existed || prev != 43 {
		t.Fatalf("delete: got (%v, %v), want (43, true)", prev, existed)
	}

	if _, ok := tbl.Get(0, []byte("foo")); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestDatabaseNamespacing(t *testing.T) {
	tbl := newTestTable(1024)
	tbl.Set(0, []byte("k"), 1)
	tbl.Set(1, []byte("k"), 2)

	v0, _ := tbl.Get(0, []byte("k"))
	v1, _ := tbl.Get(1, []byte("k"))
	if v0 != 1 || v1 != 2 {
		t.Fatalf("db namespacing broken: v0=%d v1=%d", v0, v1)
	}
}

func TestRMWAbort(t *testing.T) {
	tbl := newTestTable(1024)
	tbl.Set(0, []byte("k"), 10)

	h := tbl.BeginRMW(0, []byte("k"))
	if v, ok := h.Found(); !ok || v != 10 {
		t.Fatalf("BeginRMW found (%v, %v), want (10, true)", v, ok)
	}
	h.Abort()

	v, ok := tbl.Get(0, []byte("k"))
	if !ok || v != 10 {
		t.Fatalf("value changed after abort: (%v, %v)", v, ok)
	}
}

func TestRMWCommitDelete(t *testing.T) {
	tbl := newTestTable(1024)
	tbl.Set(0, []byte("k"), 10)

	h := tbl.BeginRMW(0, []byte("k"))
	prev, existed := h.CommitDelete()
	if !existed || prev != 10 {
		t.Fatalf("CommitDelete returned (%v, %v), want (10, true)", prev, existed)
	}

	if _, ok := tbl.Get(0, []byte("k")); ok {
		t.Fatal("expected miss after RMW delete")
	}
}

func TestKeyLengthBoundaries(t *testing.T) {
	tbl := newTestTable(1024)

	keys := [][]byte{
		[]byte("a"),                    // length 1
		make([]byte, 32),               // exactly inline threshold
		make([]byte, 33),               // just above: owned pointer path
	}
	for i := range keys[1] {
		keys[1][i] = byte(i)
	}
	for i := range keys[2] {
		keys[2][i] = byte(i)
	}

	for i, k := range keys {
		if _, _, ok := tbl.Set(0, k, i); !ok {
			t.Fatalf("set failed for key %d", i)
		}
	}
	for i, k := range keys {
		v, ok := tbl.Get(0, k)
		if !ok || v != i {
			t.Fatalf("key %d round-trip failed: got (%v, %v)", i, v, ok)
		}
	}
}

// TestFillToCapacity inserts next_pow2(max_keys) keys, requires that at
// least some are accepted, and checks that every key that can be read
// back holds its own value (overflow bounds are respected without
// corruption).
func TestFillToCapacity(t *testing.T) {
	const maxKeys = 256
	tbl := newTestTable(maxKeys)
	cap := tbl.Capacity()

	inserted := 0
	for i := uint64(0); i < cap; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		if _, _, ok := tbl.Set(0, key, int(i)); ok {
			inserted++
		}
	}

	if inserted == 0 {
		t.Fatal("expected at least some insertions to succeed")
	}

	for i := uint64(0); i < cap; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		if v, ok := tbl.Get(0, key); ok && v != int(i) {
			t.Fatalf("corruption: key-%d has value %d", i, v)
		}
	}
}

func TestIterate(t *testing.T) {
	tbl := newTestTable(1024)
	want := map[string]int{"a": 1, "b": 2, "c": 3}
	for k, v := range want {
		tbl.Set(0, []byte(k), v)
	}

	got := make(map[string]int)
	next := uint64(0)
	for i := 0; i < 10; i++ {
		next = tbl.Iterate(0, next, tbl.Capacity(), func(bucket uint64, key []byte, value int) bool {
			got[string(key)] = value
			return true
		})
	}

	for k, v := range want {
		if got[k] != v {
			t.Errorf("iterate missed or mismatched key %q: got %v, want %v", k, got[k], v)
		}
	}
}
