// Package ioadapter wraps net.Listener/net.Conn/os.File behind an I/O
// completion contract (Accept, Recv/Send, Writev, OpenFile/Fsync/Fallocate)
// instead of binding io_uring syscalls directly. Go's netpoller already
// multiplexes blocking-looking net.Conn/os.File calls onto an
// epoll/kqueue/IOCP completion mechanism under the hood, so the
// io_uring submission-queue/completion-callback machinery has no work
// left to do that the runtime doesn't already handle. The
// registered-file indirection survives as fdTable: every accepted/dialed
// Conn and every opened File gets a small integer "mapped fd" token
// handed back to the caller, the same index-addressed handle shape an
// io_uring registered-file set exposes, backed here by a linear-probed
// table rather than a kernel ioctl. Accepted and dialed TCP connections
// also get a real raw-fd socket-option pass (see tcpopts.go) disabling
// Nagle's algorithm.
//
// The Listener/Conn shape follows a plain TCP listener/connection split;
// transport security (TLS/ALPN) is out of scope — this is a plaintext
// wire protocol, same as stock Redis without TLS.
package ioadapter

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// Listener accepts inbound connections. A thin rename of net.Listener's
// contract onto an "Accept" completion.
type Listener struct {
	ln net.Listener
}

// Listen opens a TCP listener at addr.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ioadapter: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks until a new connection arrives or ctx is cancelled.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	type result struct {
		c   net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return newConn(r.c), nil
	}
}

// Dial connects to a listening hivecache worker, used by internal/worker's
// end-to-end tests.
func Dial(addr string) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ioadapter: dial %s: %w", addr, err)
	}
	return newConn(c), nil
}

// newConn tunes and registers a freshly accepted or dialed connection.
func newConn(c net.Conn) *Conn {
	_ = tuneTCP(c)
	conn := &Conn{c: c}
	conn.mappedFD, _ = registeredFDs.add(c)
	return conn
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Conn is one client connection. Recv/Send name the same operations as
// Read/Write but are kept distinct from net.Conn's method names so
// callers read as working against the completion-adapter contract, not
// raw net.Conn. mappedFD is its token in the process-wide registered-fd
// table.
type Conn struct {
	c        net.Conn
	mappedFD uint32
}

// MappedFD returns the connection's registered-fd table token.
func (c *Conn) MappedFD() uint32 { return c.mappedFD }

// Recv reads into buf, honoring a deadline if one is set via
// SetDeadline.
func (c *Conn) Recv(buf []byte) (int, error) { return c.c.Read(buf) }

// Send writes buf in full or returns the partial-write error.
func (c *Conn) Send(buf []byte) (int, error) { return c.c.Write(buf) }

// Close closes the connection and frees its registered-fd table slot.
func (c *Conn) Close() error {
	registeredFDs.remove(c.mappedFD)
	return c.c.Close()
}

// RemoteAddr returns the peer address, used for connection logging.
func (c *Conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }

// SetDeadline sets both read and write deadlines.
func (c *Conn) SetDeadline(t time.Time) error { return c.c.SetDeadline(t) }

// File is the on-disk counterpart of Conn, covering the
// OpenFile/Fsync/Fallocate completion operations. The snapshot engine
// does not use it; it writes RDB files through os.File directly.
// mappedFD is its token in the process-wide registered-fd table.
type File struct {
	f        *os.File
	mappedFD uint32
}

// MappedFD returns the file's registered-fd table token.
func (f *File) MappedFD() uint32 { return f.mappedFD }

// OpenFile opens (creating if needed, truncating if present) path.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ioadapter: open %s: %w", path, err)
	}
	file := &File{f: f}
	file.mappedFD, _ = registeredFDs.add(f)
	return file, nil
}

// Writev writes chunks sequentially as a vectored-write completion.
// Go's os.File has no native writev, so this performs the equivalent
// sequence of Write calls — functionally identical, one syscall per
// chunk instead of one syscall for the whole vector.
func (f *File) Writev(chunks [][]byte) (int64, error) {
	var total int64
	for _, c := range chunks {
		n, err := f.f.Write(c)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Fsync flushes the file to stable storage.
func (f *File) Fsync() error { return f.f.Sync() }

// Fallocate pre-extends the file to size bytes so the snapshot writer
// does not fragment while streaming blocks. os.File has no portable
// fallocate; Truncate achieves the same logical effect (a sparse file of
// the requested size) on every platform Go supports.
func (f *File) Fallocate(size int64) error { return f.f.Truncate(size) }

// Close closes the file and frees its registered-fd table slot.
func (f *File) Close() error {
	registeredFDs.remove(f.mappedFD)
	return f.f.Close()
}

// Name returns the file's path.
func (f *File) Name() string { return f.f.Name() }
