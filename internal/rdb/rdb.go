// Package rdb implements the RDB snapshot wire format: fixed header,
// opcode stream, length-prefixed encodings, and a trailing CRC64
// checksum. Writer and Reader follow a one-type-per-wire-representation
// shape, each owning symmetrical encode/decode methods plus a validation
// step, applied here to RDB's binary opcode stream.
package rdb

import (
	"bufio"
	"fmt"
	"hash/crc64"
	"io"

	"github.com/hivecache/hivecache/internal/lzf"
)

// Opcodes match the on-disk RDB format so a stock redis-check-rdb tool
// can validate output produced by this package.
const (
	OpAux           byte = 0xFA
	OpResizeDB      byte = 0xFB
	OpExpireTimeMS  byte = 0xFC
	OpExpireTime    byte = 0xFD
	OpSelectDB      byte = 0xFE
	OpEOF           byte = 0xFF
)

// ValueType tags what kind of value follows a key in the opcode stream.
// Only plain strings are implemented; other Redis value types are out
// of scope.
const TypeString byte = 0x00

const (
	magic         = "REDIS"
	versionDigits = "0009"
	// crc64Jones is the bit-reversed form of the Jones polynomial, the form
	// hash/crc64.MakeTable expects.
	crc64Jones = 0x95AC9329AC4BC9B5
)

// crcTable is built from the Jones polynomial that RDB uses for its
// trailing checksum. hash/crc64 has no predefined table for it, so the
// table is made from crc64Jones.
var crcTable = crc64.MakeTable(crc64Jones)

// crc64Sum continues a Redis-style CRC64 (zero initial value, no final
// inversion) over b. hash/crc64.Update inverts on entry and exit, so the
// running value is inverted around the call.
func crc64Sum(cur uint64, b []byte) uint64 {
	return ^crc64.Update(^cur, crcTable, b)
}

// Writer streams an RDB file: header, then a sequence of opcodes/records,
// then the CRC64 trailer. The caller drives the high-level sequence;
// Writer owns only the wire encoding.
type Writer struct {
	w   *bufio.Writer
	crc uint64
}

// NewWriter writes the RDB header immediately and returns a Writer ready
// to accept SelectDB/Set calls.
func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriter(w)
	rw := &Writer{w: bw}
	if err := rw.raw([]byte(magic + versionDigits)); err != nil {
		return nil, fmt.Errorf("rdb: write header: %w", err)
	}
	return rw, nil
}

func (w *Writer) raw(b []byte) error {
	w.crc = crc64Sum(w.crc, b)
	_, err := w.w.Write(b)
	return err
}

// SelectDB emits an OpSelectDB record switching subsequent keys into
// database db.
func (w *Writer) SelectDB(db uint32) error {
	if err := w.raw([]byte{OpSelectDB}); err != nil {
		return err
	}
	return w.writeLength(uint64(db))
}

// Aux emits an informational auxiliary field, used for metadata such as
// the producing engine's version string.
func (w *Writer) Aux(key, value string) error {
	if err := w.raw([]byte{OpAux}); err != nil {
		return err
	}
	if err := w.writeString([]byte(key)); err != nil {
		return err
	}
	return w.writeString([]byte(value))
}

// SetString writes one key/value pair of type TypeString, optionally
// preceded by an expiry opcode when expiresAtUnixMS is non-zero.
func (w *Writer) SetString(key, value []byte, expiresAtUnixMS int64) error {
	if expiresAtUnixMS > 0 {
		if err := w.raw([]byte{OpExpireTimeMS}); err != nil {
			return err
		}
		if err := w.raw(uint64LE(uint64(expiresAtUnixMS))); err != nil {
			return err
		}
	}
	if err := w.raw([]byte{TypeString}); err != nil {
		return err
	}
	if err := w.writeString(key); err != nil {
		return err
	}
	return w.writeString(value)
}

// Close emits OpEOF and the trailing CRC64 checksum, then flushes.
func (w *Writer) Close() error {
	if err := w.raw([]byte{OpEOF}); err != nil {
		return err
	}
	checksum := w.crc
	if err := w.rawNoCRC(uint64LE(checksum)); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *Writer) rawNoCRC(b []byte) error {
	_, err := w.w.Write(b)
	return err
}

// writeLength encodes n using RDB's 1/2/5/9-byte length prefix scheme:
// the top two bits of the first byte select the encoding width.
func (w *Writer) writeLength(n uint64) error {
	switch {
	case n < 1<<6:
		return w.raw([]byte{byte(n)})
	case n < 1<<14:
		return w.raw([]byte{0x40 | byte(n>>8), byte(n)})
	case n <= 0xFFFFFFFF:
		return w.raw(append([]byte{0x80}, uint32BE(uint32(n))...))
	default:
		return w.raw(append([]byte{0x81}, uint64BE(n)...))
	}
}

// writeString encodes a string: short integers use the special-encoding
// form, longer payloads are LZF-compressed when that shrinks them and
// fall back to the plain length-prefixed form otherwise.
func (w *Writer) writeString(s []byte) error {
	if iv, ok := asSmallInt(s); ok {
		return w.writeSmallInt(iv)
	}

	if len(s) > 20 {
		if compressed, ok := lzf.Compress(s); ok {
			if err := w.raw([]byte{0xC3}); err != nil { // special-encoding: LZF string
				return err
			}
			if err := w.writeLength(uint64(len(compressed))); err != nil {
				return err
			}
			if err := w.writeLength(uint64(len(s))); err != nil {
				return err
			}
			return w.raw(compressed)
		}
	}

	if err := w.writeLength(uint64(len(s))); err != nil {
		return err
	}
	return w.raw(s)
}

func (w *Writer) writeSmallInt(v int64) error {
	switch {
	case v >= -128 && v <= 127:
		return w.raw([]byte{0xC0, byte(int8(v))})
	case v >= -32768 && v <= 32767:
		b := uint16LE(uint16(int16(v)))
		return w.raw(append([]byte{0xC1}, b...))
	default:
		b := uint32LE(uint32(int32(v)))
		return w.raw(append([]byte{0xC2}, b...))
	}
}

// asSmallInt reports whether s is the ASCII decimal representation of an
// int32-range integer with no leading zero or sign-only forms, the exact
// condition RDB uses to choose the integer special encoding over a plain
// string.
func asSmallInt(s []byte) (int64, bool) {
	if len(s) == 0 || len(s) > 11 {
		return 0, false
	}
	i := 0
	neg := false
	if s[0] == '-' {
		neg = true
		i = 1
	}
	if i >= len(s) {
		return 0, false
	}
	if s[i] == '0' && (len(s)-i > 1 || neg) {
		return 0, false
	}
	var v int64
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		v = v*10 + int64(s[i]-'0')
	}
	if neg {
		v = -v
	}
	if v < -2147483648 || v > 2147483647 {
		return 0, false
	}
	return v, true
}

func uint16LE(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }
func uint32LE(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }
func uint64LE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
func uint32BE(v uint32) []byte { return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)} }
func uint64BE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
	return b
}
