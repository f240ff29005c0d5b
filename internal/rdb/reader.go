package rdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hivecache/hivecache/internal/lzf"
)

// Record is one decoded key/value pair from an RDB stream.
type Record struct {
	DB              uint32
	Key             []byte
	Value           []byte
	ExpiresAtUnixMS int64 // 0 if no expiry
}

// Reader parses the RDB format written by Writer. It validates the
// header and trailing checksum the same way Writer computes them.
type Reader struct {
	r        *bufio.Reader
	crc      uint64
	db       uint32
	pendingExpiry int64
}

// NewReader validates the RDB magic+version header and returns a Reader
// positioned at the first opcode.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	rr := &Reader{r: br}

	hdr := make([]byte, len(magic)+len(versionDigits))
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("rdb: read header: %w", err)
	}
	rr.crc = crc64Sum(rr.crc, hdr)
	if string(hdr[:len(magic)]) != magic {
		return nil, fmt.Errorf("rdb: bad magic %q", hdr[:len(magic)])
	}
	return rr, nil
}

// Next decodes the next record from the stream. It returns io.EOF once
// the OpEOF opcode and checksum trailer have been consumed and verified.
func (r *Reader) Next() (*Record, error) {
	for {
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}

		switch b {
		case OpEOF:
			return nil, r.finish()
		case OpSelectDB:
			n, err := r.readLength()
			if err != nil {
				return nil, err
			}
			r.db = uint32(n)
			continue
		case OpResizeDB:
			if _, err := r.readLength(); err != nil {
				return nil, err
			}
			if _, err := r.readLength(); err != nil {
				return nil, err
			}
			continue
		case OpAux:
			if _, err := r.readString(); err != nil {
				return nil, err
			}
			if _, err := r.readString(); err != nil {
				return nil, err
			}
			continue
		case OpExpireTimeMS:
			buf, err := r.readN(8)
			if err != nil {
				return nil, err
			}
			r.pendingExpiry = int64(binary.LittleEndian.Uint64(buf))
			continue
		case OpExpireTime:
			buf, err := r.readN(4)
			if err != nil {
				return nil, err
			}
			r.pendingExpiry = int64(binary.LittleEndian.Uint32(buf)) * 1000
			continue
		case TypeString:
			key, err := r.readString()
			if err != nil {
				return nil, err
			}
			val, err := r.readString()
			if err != nil {
				return nil, err
			}
			rec := &Record{DB: r.db, Key: key, Value: val, ExpiresAtUnixMS: r.pendingExpiry}
			r.pendingExpiry = 0
			return rec, nil
		default:
			return nil, fmt.Errorf("rdb: unsupported opcode 0x%02X", b)
		}
	}
}

func (r *Reader) finish() error {
	got := r.crc
	want, err := r.readN(8)
	if err != nil {
		return fmt.Errorf("rdb: read checksum: %w", err)
	}
	wantVal := binary.LittleEndian.Uint64(want)
	if wantVal != 0 && wantVal != got {
		return fmt.Errorf("rdb: checksum mismatch: got %x want %x", got, wantVal)
	}
	return io.EOF
}

func (r *Reader) readByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, err
	}
	r.crc = crc64Sum(r.crc, []byte{b})
	return b, nil
}

func (r *Reader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	r.crc = crc64Sum(r.crc, buf)
	return buf, nil
}

func (r *Reader) readLength() (uint64, error) {
	first, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch first >> 6 {
	case 0:
		return uint64(first & 0x3F), nil
	case 1:
		second, err := r.readByte()
		if err != nil {
			return 0, err
		}
		return uint64(first&0x3F)<<8 | uint64(second), nil
	case 2:
		if first == 0x80 {
			b, err := r.readN(4)
			if err != nil {
				return 0, err
			}
			return uint64(binary.BigEndian.Uint32(b)), nil
		}
		b, err := r.readN(8)
		if err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(b), nil
	default:
		return 0, fmt.Errorf("rdb: special-encoding length byte 0x%02X seen outside readString", first)
	}
}

func (r *Reader) readString() ([]byte, error) {
	first, err := r.r.ReadByte()
	if err != nil {
		return nil, err
	}

	if first>>6 == 3 {
		r.crc = crc64Sum(r.crc, []byte{first})
		switch first {
		case 0xC0:
			b, err := r.readN(1)
			if err != nil {
				return nil, err
			}
			return []byte(fmt.Sprintf("%d", int8(b[0]))), nil
		case 0xC1:
			b, err := r.readN(2)
			if err != nil {
				return nil, err
			}
			return []byte(fmt.Sprintf("%d", int16(binary.LittleEndian.Uint16(b)))), nil
		case 0xC2:
			b, err := r.readN(4)
			if err != nil {
				return nil, err
			}
			return []byte(fmt.Sprintf("%d", int32(binary.LittleEndian.Uint32(b)))), nil
		case 0xC3:
			compLen, err := r.readLength()
			if err != nil {
				return nil, err
			}
			rawLen, err := r.readLength()
			if err != nil {
				return nil, err
			}
			comp, err := r.readN(int(compLen))
			if err != nil {
				return nil, err
			}
			return lzf.Decompress(comp, int(rawLen))
		default:
			return nil, fmt.Errorf("rdb: unsupported special string encoding 0x%02X", first)
		}
	}

	// not a special encoding: put the byte back into the length decode path
	r.crc = crc64Sum(r.crc, []byte{first})
	var n uint64
	switch first >> 6 {
	case 0:
		n = uint64(first & 0x3F)
	case 1:
		second, err := r.readByte()
		if err != nil {
			return nil, err
		}
		n = uint64(first&0x3F)<<8 | uint64(second)
	case 2:
		if first == 0x80 {
			b, err := r.readN(4)
			if err != nil {
				return nil, err
			}
			n = uint64(binary.BigEndian.Uint32(b))
		} else {
			b, err := r.readN(8)
			if err != nil {
				return nil, err
			}
			n = binary.BigEndian.Uint64(b)
		}
	}
	return r.readN(int(n))
}
