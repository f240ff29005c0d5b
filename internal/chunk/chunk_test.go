package chunk

import (
	"bytes"
	"testing"
)

func TestSplit(t *testing.T) {
	testCases := []struct {
		name       string
		data       []byte
		chunkSize  uint32
		wantChunks int
	}{
		{"empty data", []byte{}, 1024, 0},
		{"single byte", []byte{42}, 1024, 1},
		{"exact chunk size", make([]byte, 1024), 1024, 1},
		{"one byte over boundary", make([]byte, 1025), 1024, 2},
		{"two chunks", make([]byte, 2048), 1024, 2},
		{"partial last chunk", make([]byte, 1500), 1024, 2},
		{"small chunk size", []byte("hello world"), 5, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seq, err := Split(tc.data, tc.chunkSize)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}

			if seq.ChunkCount() != tc.wantChunks {
				t.Errorf("wrong chunk count: got %d, want %d", seq.ChunkCount(), tc.wantChunks)
			}

			if err := seq.Validate(); err != nil {
				t.Errorf("sequence failed validation: %v", err)
			}

			if seq.Len() != uint64(len(tc.data)) {
				t.Errorf("wrong total length: got %d, want %d", seq.Len(), len(tc.data))
			}

			if !bytes.Equal(seq.Bytes(), tc.data) {
				t.Errorf("round-trip mismatch")
			}
		})
	}
}

func TestSplitZeroChunkSize(t *testing.T) {
	if _, err := Split([]byte("x"), 0); err == nil {
		t.Fatal("expected error for zero chunk size")
	}
}

// TestSplitChunkBoundary covers the boundary case where values of
// length exactly maxChunkSize and maxChunkSize+1 round-trip with the
// expected chunk count.
func TestSplitChunkBoundary(t *testing.T) {
	const maxChunkSize = 64 * 1024

	atBoundary := make([]byte, maxChunkSize)
	seq, err := Split(atBoundary, maxChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	if seq.ChunkCount() != 1 {
		t.Fatalf("at boundary: got %d chunks, want 1", seq.ChunkCount())
	}

	overBoundary := make([]byte, maxChunkSize+1)
	seq, err = Split(overBoundary, maxChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	if seq.ChunkCount() != 2 {
		t.Fatalf("over boundary: got %d chunks, want 2", seq.ChunkCount())
	}
}
