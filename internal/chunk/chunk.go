// Package chunk implements the bounded-size value chunk and chunk
// sequence model. A Sequence is the logical value bytes of one entry,
// split into ≤ MaxChunkSize regions so neither the memory nor file
// backend ever has to move a single oversized allocation.
//
// This generalizes a whole-file content chunker (originally splitting
// files into content-addressed chunks for transfer) to splitting a
// single in-memory value into fixed-size regions for the hash table's
// value slot; the content-addressing concept is dropped since the hash
// table — not the chunk — is what identifies a value.
package chunk

import "fmt"

// Chunk is one bounded byte region of a Sequence.
//
// In the memory backend, Data owns its bytes directly. A file backend
// would instead carry an Offset into a pre-allocated shard (see
// internal/chunk/shard.go) and leave Data nil until read back; that
// backend is not implemented here (see the Open Questions note in
// shard.go), but the field shape reserves room for it.
type Chunk struct {
	Data   []byte
	Offset uint64
}

// Len returns the number of logical bytes this chunk holds.
func (c Chunk) Len() int { return len(c.Data) }

// Sequence is an ordered list of Chunks whose concatenation is the logical
// value. Invariants:
//   - total length == sum of chunk lengths
//   - len(chunks) == ceil(length / maxChunkSize)
//   - every chunk except possibly the last is full
type Sequence struct {
	chunks       []Chunk
	length       uint64
	maxChunkSize uint32
}

// Split builds a Sequence from raw bytes, dividing it into maxChunkSize
// regions. maxChunkSize must be > 0.
func Split(data []byte, maxChunkSize uint32) (Sequence, error) {
	if maxChunkSize == 0 {
		return Sequence{}, fmt.Errorf("chunk: max chunk size must be > 0")
	}

	if len(data) == 0 {
		return Sequence{maxChunkSize: maxChunkSize}, nil
	}

	count := (len(data) + int(maxChunkSize) - 1) / int(maxChunkSize)
	chunks := make([]Chunk, 0, count)

	var offset uint64
	for i := 0; i < len(data); i += int(maxChunkSize) {
		end := i + int(maxChunkSize)
		if end > len(data) {
			end = len(data)
		}

		buf := make([]byte, end-i)
		copy(buf, data[i:end])

		chunks = append(chunks, Chunk{Data: buf, Offset: offset})
		offset += uint64(end - i)
	}

	return Sequence{chunks: chunks, length: uint64(len(data)), maxChunkSize: maxChunkSize}, nil
}

// Len returns the total logical byte length of the sequence.
func (s Sequence) Len() uint64 { return s.length }

// ChunkCount returns the number of chunks backing the sequence.
func (s Sequence) ChunkCount() int { return len(s.chunks) }

// Chunks returns the underlying chunk slice in order. Callers must not
// mutate the returned slice's backing Data in place; treat it as read-only.
func (s Sequence) Chunks() []Chunk { return s.chunks }

// Bytes concatenates every chunk and returns the logical value. This
// allocates; hot paths that only need to stream bytes (the snapshot
// engine's RDB writer) should range over Chunks() instead.
func (s Sequence) Bytes() []byte {
	out := make([]byte, 0, s.length)
	for _, c := range s.chunks {
		out = append(out, c.Data...)
	}
	return out
}

// Validate checks the chunk-sequence invariants: total length equals
// the sum of chunk lengths, chunk count matches
// ceil(length/maxChunkSize), and every chunk but the last is full.
func (s Sequence) Validate() error {
	var total uint64
	var expectedOffset uint64

	for i, c := range s.chunks {
		if c.Offset != expectedOffset {
			return fmt.Errorf("chunk: chunk %d has offset %d, want %d", i, c.Offset, expectedOffset)
		}

		if i != len(s.chunks)-1 && uint32(c.Len()) != s.maxChunkSize {
			return fmt.Errorf("chunk: non-final chunk %d has length %d, want %d", i, c.Len(), s.maxChunkSize)
		}

		total += uint64(c.Len())
		expectedOffset += uint64(c.Len())
	}

	if total != s.length {
		return fmt.Errorf("chunk: total length %d does not match sum of chunk lengths %d", s.length, total)
	}

	wantCount := 0
	if s.length > 0 {
		wantCount = int((s.length + uint64(s.maxChunkSize) - 1) / uint64(s.maxChunkSize))
	}
	if len(s.chunks) != wantCount {
		return fmt.Errorf("chunk: chunk count %d does not match expected %d", len(s.chunks), wantCount)
	}

	return nil
}
