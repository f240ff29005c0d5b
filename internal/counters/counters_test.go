package counters

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyAccumulates(t *testing.T) {
	var s Set
	s.Apply(Delta{KeysCount: 1, DataSize: 10, KeysChanged: 1, DataChanged: 1})
	s.Apply(Delta{KeysCount: -1, DataSize: -10, KeysChanged: 1, DataChanged: 1})

	snap := s.Read()
	require.Zero(t, snap.KeysCount, "live key count should net to zero")
	require.Zero(t, snap.DataSize, "live data size should net to zero")
	require.EqualValues(t, 2, snap.KeysChanged, "lifetime counter should accumulate")
	require.EqualValues(t, 2, snap.DataChanged, "lifetime counter should accumulate")
}

func TestAggregateUpdatesBoth(t *testing.T) {
	var db, global Set
	Aggregate(&db, &global, Delta{KeysCount: 1, DataSize: 5, KeysChanged: 1, DataChanged: 1})

	if db.Read().KeysCount != 1 || global.Read().KeysCount != 1 {
		t.Fatal("Aggregate must update both the database and global scope")
	}
}

func TestByDatabaseIsolation(t *testing.T) {
	b := NewByDatabase(4)
	b.Apply(0, Delta{KeysCount: 1})
	b.Apply(2, Delta{KeysCount: 3})

	if b.Database(0).Read().KeysCount != 1 {
		t.Fatal("db 0 count wrong")
	}
	if b.Database(2).Read().KeysCount != 3 {
		t.Fatal("db 2 count wrong")
	}
	if b.Database(1).Read().KeysCount != 0 {
		t.Fatal("db 1 should be untouched")
	}
	if b.Global().Read().KeysCount != 4 {
		t.Fatalf("global count = %d, want 4", b.Global().Read().KeysCount)
	}
}
