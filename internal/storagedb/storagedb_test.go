package storagedb

import (
	"fmt"
	"testing"
	"time"

	"github.com/hivecache/hivecache/internal/config"
)

func newTestDB() *DB {
	cfg := *config.DefaultConfig()
	cfg.MaxKeys = 256
	return New(cfg, 4)
}

func TestSetGetDelete(t *testing.T) {
	db := newTestDB()

	if err := db.Set(0, []byte("foo"), []byte("bar"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok := db.Get(0, []byte("foo"))
	if !ok || string(v) != "bar" {
		t.Fatalf("Get = (%q, %v), want (bar, true)", v, ok)
	}

	if !db.Delete(0, []byte("foo")) {
		t.Fatal("Delete should report the key existed")
	}
	if _, ok := db.Get(0, []byte("foo")); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestCountersTrackLiveKeys(t *testing.T) {
	db := newTestDB()
	db.Set(0, []byte("a"), []byte("1"), 0)
	db.Set(0, []byte("b"), []byte("22"), 0)

	snap := db.Counters(0).Read()
	if snap.KeysCount != 2 {
		t.Fatalf("keys_count = %d, want 2", snap.KeysCount)
	}

	db.Delete(0, []byte("a"))
	snap = db.Counters(0).Read()
	if snap.KeysCount != 1 {
		t.Fatalf("keys_count after delete = %d, want 1", snap.KeysCount)
	}
}

func TestTTLExpiry(t *testing.T) {
	db := newTestDB()
	db.Set(0, []byte("k"), []byte("v"), 5*time.Millisecond)

	if _, ok := db.Get(0, []byte("k")); !ok {
		t.Fatal("key should be present immediately after Set")
	}
	time.Sleep(15 * time.Millisecond)
	if _, ok := db.Get(0, []byte("k")); ok {
		t.Fatal("key should have expired")
	}
}

func TestRename(t *testing.T) {
	db := newTestDB()
	db.Set(0, []byte("old"), []byte("v"), 0)

	if err := db.Rename(0, []byte("old"), []byte("new")); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, ok := db.Get(0, []byte("old")); ok {
		t.Fatal("old key should no longer exist")
	}
	if v, ok := db.Get(0, []byte("new")); !ok || string(v) != "v" {
		t.Fatalf("new key missing or wrong value: %q %v", v, ok)
	}
}

func TestRenameMissingKey(t *testing.T) {
	db := newTestDB()
	if err := db.Rename(0, []byte("nope"), []byte("x")); err != ErrKeyNotFound {
		t.Fatalf("Rename on missing key: got %v, want ErrKeyNotFound", err)
	}
}

func TestFlush(t *testing.T) {
	db := newTestDB()
	db.Set(0, []byte("a"), []byte("1"), 0)
	db.Set(0, []byte("b"), []byte("2"), 0)
	db.Set(1, []byte("c"), []byte("3"), 0)

	db.Flush(0)
	if _, ok := db.Get(0, []byte("a")); ok {
		t.Fatal("db 0 should be empty after Flush")
	}
	if _, ok := db.Get(1, []byte("c")); !ok {
		t.Fatal("Flush(0) must not touch db 1")
	}
}

func TestDatabaseIsolation(t *testing.T) {
	db := newTestDB()
	db.Set(0, []byte("k"), []byte("v0"), 0)
	db.Set(1, []byte("k"), []byte("v1"), 0)

	v0, _ := db.Get(0, []byte("k"))
	v1, _ := db.Get(1, []byte("k"))
	if string(v0) != "v0" || string(v1) != "v1" {
		t.Fatalf("databases are not isolated: v0=%q v1=%q", v0, v1)
	}
}

func TestRandomKeyOnEmptyDB(t *testing.T) {
	db := newTestDB()
	if _, ok := db.RandomKey(0); ok {
		t.Fatal("RandomKey on empty database should report no key")
	}
}

func TestRandomKeyFindsExisting(t *testing.T) {
	db := newTestDB()
	db.Set(0, []byte("only"), []byte("v"), 0)

	key, ok := db.RandomKey(0)
	if !ok || string(key) != "only" {
		t.Fatalf("RandomKey = (%q, %v), want (only, true)", key, ok)
	}
}

func TestScanVisitsInsertedKeys(t *testing.T) {
	db := newTestDB()
	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		db.Set(0, []byte(k), []byte(v), 0)
	}

	got := make(map[string]string)
	db.Scan(0, 0, db.table.Capacity(), func(k, v []byte, _ int64) {
		got[string(k)] = string(v)
	})
	for k, v := range want {
		if got[k] != v {
			t.Errorf("scan missed %q: got %q, want %q", k, got[k], v)
		}
	}
}

func TestScanReportsCreationTime(t *testing.T) {
	db := newTestDB()
	before := time.Now().UnixNano()
	db.Set(0, []byte("k"), []byte("v"), 0)
	after := time.Now().UnixNano()

	var got int64
	db.Scan(0, 0, db.table.Capacity(), func(k, v []byte, createdAt int64) {
		if string(k) == "k" {
			got = createdAt
		}
	})
	if got < before || got > after {
		t.Fatalf("createdAt = %d, want between %d and %d", got, before, after)
	}
}

func TestRunEvictionWorkerEvictsUpToLimit(t *testing.T) {
	cfg := *config.DefaultConfig()
	cfg.MaxKeys = 1024
	db := New(cfg, 1)

	for i := 0; i < 10000; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		if err := db.Set(0, k, []byte("v"), 0); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
	}

	evicted := db.RunEvictionWorker(0, false)
	if evicted != config.EvictionDeletePerRun {
		t.Fatalf("evicted = %d, want %d", evicted, config.EvictionDeletePerRun)
	}
}

func TestRunEvictionWorkerOnlyTTLSkipsNonExpiring(t *testing.T) {
	cfg := *config.DefaultConfig()
	cfg.MaxKeys = 256
	db := New(cfg, 1)

	for i := 0; i < 256; i++ {
		k := []byte(fmt.Sprintf("perm-%03d", i))
		if err := db.Set(0, k, []byte("v"), 0); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
	}
	if evicted := db.RunEvictionWorker(0, true); evicted != 0 {
		t.Fatalf("only_ttl eviction evicted %d keys with no expiry, want 0", evicted)
	}

	db.Flush(0)
	for i := 0; i < 256; i++ {
		k := []byte(fmt.Sprintf("exp-%03d", i))
		if err := db.Set(0, k, []byte("v"), time.Hour); err != nil {
			t.Fatalf("Set #%d: %v", i, err)
		}
	}
	if evicted := db.RunEvictionWorker(0, true); evicted != config.EvictionDeletePerRun {
		t.Fatalf("only_ttl eviction = %d, want %d (table fully populated with expiring keys)", evicted, config.EvictionDeletePerRun)
	}
}
