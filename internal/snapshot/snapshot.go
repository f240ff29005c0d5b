// Package snapshot implements the RDB snapshot engine state machine:
// NONE -> IN_PREPARATION -> IN_PROGRESS -> BEING_FINALIZED -> COMPLETED,
// with FAILED terminal states reachable from preparation or in-progress.
// Run walks each database in turn on the calling goroutine, scanning
// SnapshotBlockBuckets buckets per step, then drives finalize/fsync.
// There is no per-worker split of the bucket range.
//
// A run is not a stop-the-world snapshot: it walks a live, mutating table.
// Every source gets a start-time skip-check (entries created at or after
// the run's start are left out); a Source that implements ShadowSource
// also gets a write-path shadow queue for entries displaced from buckets
// the walk has not reached yet. These narrow, but do not fully close, the
// window in which a concurrent write can make a key appear twice or not
// at all in the finished RDB file.
//
// The state enum and its mutex-guarded transitions follow a
// StateStopped/.../StateError shape with a String() method and setState
// under a dedicated mutex.
package snapshot

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hivecache/hivecache/internal/config"
	"github.com/hivecache/hivecache/internal/rdb"
)

// State is one point in the snapshot lifecycle.
type State int

const (
	StateNone State = iota
	StateInPreparation
	StateInProgress
	StateBeingFinalized
	StateCompleted
	StateFailedPreparation
	StateFailedInProgress
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInPreparation:
		return "in_preparation"
	case StateInProgress:
		return "in_progress"
	case StateBeingFinalized:
		return "being_finalized"
	case StateCompleted:
		return "completed"
	case StateFailedPreparation:
		return "failed_preparation"
	case StateFailedInProgress:
		return "failed_in_progress"
	default:
		return "unknown"
	}
}

// Source is whatever internal/storagedb exposes to the snapshot engine:
// enough to enumerate databases and scan each one's live keys in bucket
// order, tagged with each entry's creation time. Kept as an interface so
// the engine's tests can supply a fake store without depending on the full
// storagedb package.
type Source interface {
	Scan(db uint32, cursor, maxDistance uint64, fn func(key, value []byte, createdAtUnixNano int64)) (next uint64)
}

// ShadowSource is a Source that also supports the write-path shadow: the
// mechanism that keeps a snapshot consistent under concurrent mutation.
// Without it, a key live when the run started but moved to a bucket the
// walker already passed (by a concurrent overwrite or delete) would be
// silently lost. A source implementing ShadowSource gets:
//
//   - a skip-check: entries created at or after the run's start instant are
//     excluded from the walk, since they were not live at start-time;
//   - a shadow queue: entries live at start-time but displaced from a
//     not-yet-visited bucket are captured separately and replayed after the
//     walk finishes that database.
//
// A source that only implements Source (such as a test double scanning
// static data) gets a plain sequential walk with the skip-check, measured
// against the run's own start time, but no shadow queue.
type ShadowSource interface {
	Source

	// BeginSnapshot opens a shadow capture window and returns the run's
	// point-in-time instant (unix nanoseconds): entries created at or
	// after it are excluded from the scan.
	BeginSnapshot() (startUnixNano int64)

	// MarkVisited records that db's bucket walk has passed bucket, so
	// later writes to already-visited buckets no longer need capturing.
	MarkVisited(db uint32, bucket uint64)

	// DrainShadow delivers every shadow-captured (key, value) queued for
	// db to fn, removing them from the queue.
	DrainShadow(db uint32, fn func(key, value []byte))

	// EndSnapshot closes the shadow capture window.
	EndSnapshot()
}

// Engine drives one snapshot run across numDatabases logical databases.
type Engine struct {
	mu            sync.Mutex
	state         State
	path          string
	rotationMax   int
	lastStart     time.Time
	lastErr       error
	numDatabases  int
}

// New builds a snapshot engine writing RDB files under path (a base name;
// the newest file is path itself, older generations are path+".1",
// path+".2", ...).
func New(cfg *config.Config, numDatabases int) *Engine {
	rot := cfg.SnapshotRotationMax
	if rot <= 0 {
		rot = config.DefaultRotationMaxFiles
	}
	return &Engine{path: cfg.SnapshotPath, rotationMax: rot, numDatabases: numDatabases}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastError returns the error from the most recent failed run, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run executes one full snapshot: prepare (open file, rotate prior
// generations), serialize every database's live keys in bucket order,
// finalize (checksum + fsync), then mark completed. It returns the path
// of the written file.
func (e *Engine) Run(sources []Source) (string, error) {
	e.mu.Lock()
	if e.state == StateInPreparation || e.state == StateInProgress || e.state == StateBeingFinalized {
		e.mu.Unlock()
		return "", fmt.Errorf("snapshot: a run is already in progress (state=%s)", e.state)
	}
	e.lastStart = time.Now()
	e.mu.Unlock()

	e.setState(StateInPreparation)
	target, err := e.prepare()
	if err != nil {
		e.fail(StateFailedPreparation, err)
		return "", err
	}

	e.setState(StateInProgress)
	f, err := os.Create(target)
	if err != nil {
		e.fail(StateFailedInProgress, err)
		return "", err
	}
	defer f.Close()

	w, err := rdb.NewWriter(f)
	if err != nil {
		e.fail(StateFailedInProgress, err)
		return "", err
	}
	w.Aux("hivecache-version", config.SnapshotRDBVersion)

	startTime := time.Now().UnixNano()
	shadows := make([]ShadowSource, len(sources))
	for i, src := range sources {
		if ss, ok := src.(ShadowSource); ok {
			shadows[i] = ss
			startTime = ss.BeginSnapshot()
		}
	}
	defer func() {
		for _, ss := range shadows {
			if ss != nil {
				ss.EndSnapshot()
			}
		}
	}()

	for dbNum, src := range sources {
		if err := w.SelectDB(uint32(dbNum)); err != nil {
			e.fail(StateFailedInProgress, err)
			return "", err
		}
		var walkErr error
		cursor := uint64(0)
		for {
			next := src.Scan(uint32(dbNum), cursor, config.SnapshotBlockBuckets, func(key, value []byte, createdAtUnixNano int64) {
				if walkErr != nil {
					return
				}
				if createdAtUnixNano >= startTime {
					return // created after the run started: not part of this point-in-time view
				}
				walkErr = w.SetString(key, value, 0)
			})
			if walkErr != nil {
				e.fail(StateFailedInProgress, walkErr)
				return "", walkErr
			}
			if ss := shadows[dbNum]; ss != nil {
				ss.MarkVisited(uint32(dbNum), next)
			}
			if next <= cursor && cursor != 0 {
				break
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}

		if ss := shadows[dbNum]; ss != nil {
			var shadowErr error
			ss.DrainShadow(uint32(dbNum), func(key, value []byte) {
				if shadowErr != nil {
					return
				}
				shadowErr = w.SetString(key, value, 0)
			})
			if shadowErr != nil {
				e.fail(StateFailedInProgress, shadowErr)
				return "", shadowErr
			}
		}
	}

	e.setState(StateBeingFinalized)
	if err := w.Close(); err != nil {
		e.fail(StateFailedInProgress, err)
		return "", err
	}
	if err := f.Sync(); err != nil {
		e.fail(StateFailedInProgress, err)
		return "", err
	}
	if err := writeIntegrityDigest(target); err != nil {
		e.fail(StateFailedInProgress, err)
		return "", err
	}

	e.mu.Lock()
	e.state = StateCompleted
	e.lastErr = nil
	e.mu.Unlock()
	return target, nil
}

func (e *Engine) fail(s State, err error) {
	e.mu.Lock()
	e.state = s
	e.lastErr = err
	e.mu.Unlock()
}

// prepare rotates existing generations (path+".N" -> path+".N+1", dropping
// anything beyond rotationMax) and returns the fresh target path.
func (e *Engine) prepare() (string, error) {
	if e.path == "" {
		return "", fmt.Errorf("snapshot: no path configured")
	}
	for n := e.rotationMax; n >= 1; n-- {
		src := rotatedName(e.path, n-1)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if n >= e.rotationMax {
			os.Remove(src)
			continue
		}
		if err := os.Rename(src, rotatedName(e.path, n)); err != nil {
			return "", err
		}
	}
	return rotatedName(e.path, 0), nil
}

func rotatedName(base string, n int) string {
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s.%d", base, n)
}
