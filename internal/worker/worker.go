// Package worker implements the per-CPU worker: one worker owns a
// storagedb.DB shard, a listener, and a set of maintenance fibers
// (reclamation, eviction sweep). Each accepted connection is served by
// its own fiber running a blocking RESP command loop.
//
// State lifecycle (StateStopped/.../StateError, mutex-guarded, with a
// String() method) and the supervised start/stop lifecycle follow the
// same shape used for any supervised long-running component. There is no
// health-check loop.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivecache/hivecache/internal/config"
	"github.com/hivecache/hivecache/internal/fiber"
	"github.com/hivecache/hivecache/internal/ioadapter"
	"github.com/hivecache/hivecache/internal/metrics"
	"github.com/hivecache/hivecache/internal/resp"
	"github.com/hivecache/hivecache/internal/storagedb"
	"github.com/hivecache/hivecache/internal/transaction"
)

// State enumerates a worker's lifecycle.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Worker owns one shard of the keyspace: its own storagedb.DB, its own
// listener, and the maintenance fibers that keep it healthy. Multiple
// workers run independently with no shared locks under a per-worker
// ownership model.
type Worker struct {
	mu    sync.RWMutex
	state State

	id      int
	db      *storagedb.DB
	ln      *ioadapter.Listener
	metrics *metrics.Metrics
	log     zerolog.Logger

	cfg *config.Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a worker bound to a storage shard and logger, not yet
// listening on the network.
func New(id int, cfg *config.Config, db *storagedb.DB, m *metrics.Metrics, log zerolog.Logger) *Worker {
	return &Worker{id: id, cfg: cfg, db: db, metrics: m, log: log.With().Int("worker", id).Logger()}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Start opens the listener, then spawns the accept loop and maintenance
// fibers as goroutines supervised by ctx.
func (w *Worker) Start(ctx context.Context, addr string) error {
	w.mu.Lock()
	if w.state == StateRunning || w.state == StateStarting {
		w.mu.Unlock()
		return fmt.Errorf("worker %d: already running", w.id)
	}
	w.state = StateStarting
	w.mu.Unlock()

	ln, err := ioadapter.Listen(addr)
	if err != nil {
		w.setState(StateError)
		return fmt.Errorf("worker %d: %w", w.id, err)
	}
	w.ln = ln

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.setState(StateRunning)

	f := fiber.New(w.ctx, w.acceptLoop)
	w.wg.Add(1)
	go func() { defer w.wg.Done(); f.Wait() }()

	rf := fiber.New(w.ctx, w.reclaimLoop)
	w.wg.Add(1)
	go func() { defer w.wg.Done(); rf.Wait() }()

	ef := fiber.New(w.ctx, w.evictionLoop)
	w.wg.Add(1)
	go func() { defer w.wg.Done(); ef.Wait() }()

	w.log.Info().Str("addr", ln.Addr().String()).Msg("worker listening")
	return nil
}

// Stop cancels every fiber and waits for them to exit, then closes the
// listener.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return fmt.Errorf("worker %d: not running", w.id)
	}
	w.state = StateStopping
	w.mu.Unlock()

	w.cancel()
	if w.ln != nil {
		w.ln.Close()
	}
	w.wg.Wait()

	w.setState(StateStopped)
	return nil
}

func (w *Worker) acceptLoop(ctx context.Context) {
	for {
		conn, err := w.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn().Err(err).Msg("accept failed")
			continue
		}
		fiber.New(ctx, func(cctx context.Context) { w.serveConn(cctx, conn) })
	}
}

func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(config.ReclaimTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.db.ReclaimPass()
		}
	}
}

func (w *Worker) evictionLoop(ctx context.Context) {
	ticker := time.NewTicker(config.EvictionTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.db.RunEvictionWorker(defaultDB, false); n > 0 {
				w.log.Debug().Int("evicted", n).Msg("eviction pass")
			}
		}
	}
}

func (w *Worker) serveConn(ctx context.Context, conn *ioadapter.Conn) {
	defer conn.Close()
	r := bufio.NewReader(connReader{conn})

	for {
		if ctx.Err() != nil {
			return
		}
		args, err := resp.ReadCommand(r)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}
		txn := transaction.Begin(w.id)
		reply := w.dispatch(args)
		txn.Release()
		w.log.Debug().Uint64("txn", txn.ID().Index).Str("cmd", args[0]).Msg("command handled")
		if w.metrics != nil {
			w.metrics.RecordCommand(args[0])
		}
		if _, err := conn.Send(reply); err != nil {
			return
		}
	}
}

// connReader adapts ioadapter.Conn (Recv) to io.Reader (Read) for
// bufio.NewReader, since the completion-adapter naming deliberately
// doesn't alias net.Conn's method names.
type connReader struct{ c *ioadapter.Conn }

func (c connReader) Read(p []byte) (int, error) { return c.c.Recv(p) }

const defaultDB = 0

func (w *Worker) dispatch(args []string) []byte {
	switch upper(args[0]) {
	case "PING":
		if len(args) > 1 {
			return resp.BulkString([]byte(args[1]))
		}
		return resp.SimpleString("PONG")

	case "SET":
		if len(args) < 3 {
			return resp.Error("ERR wrong number of arguments for 'set' command")
		}
		ttl := time.Duration(0)
		if len(args) >= 5 && upper(args[3]) == "PX" {
			if ms, err := strconv.ParseInt(args[4], 10, 64); err == nil {
				ttl = time.Duration(ms) * time.Millisecond
			}
		}
		if err := w.db.Set(defaultDB, []byte(args[1]), []byte(args[2]), ttl); err != nil {
			return resp.Error("ERR " + err.Error())
		}
		return resp.SimpleString("OK")

	case "GET":
		if len(args) != 2 {
			return resp.Error("ERR wrong number of arguments for 'get' command")
		}
		v, ok := w.db.Get(defaultDB, []byte(args[1]))
		if !ok {
			return resp.NullBulkString()
		}
		return resp.BulkString(v)

	case "DEL":
		if len(args) < 2 {
			return resp.Error("ERR wrong number of arguments for 'del' command")
		}
		var n int64
		for _, k := range args[1:] {
			if w.db.Delete(defaultDB, []byte(k)) {
				n++
			}
		}
		return resp.Integer(n)

	case "RENAME":
		if len(args) != 3 {
			return resp.Error("ERR wrong number of arguments for 'rename' command")
		}
		if err := w.db.Rename(defaultDB, []byte(args[1]), []byte(args[2])); err != nil {
			return resp.Error("ERR " + err.Error())
		}
		return resp.SimpleString("OK")

	case "FLUSHDB":
		w.db.Flush(defaultDB)
		return resp.SimpleString("OK")

	default:
		return resp.Error(fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}
