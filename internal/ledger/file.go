package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/khnews/crosspost/internal/logger"
	"github.com/khnews/crosspost/internal/metrics"
)

// FileLedger persists published ids as a JSON array of integers,
// oldest first, capped at limit entries. Writes go through a temp file
// and rename so the on-disk state is always a complete array, and a
// sidecar lock file serializes concurrent pipeline invocations.
type FileLedger struct {
	path  string
	limit int
	ids   []int64
	seen  map[int64]struct{}
}

func NewFileLedger(path string, limit int) *FileLedger {
	if limit <= 0 {
		limit = 200
	}
	return &FileLedger{
		path:  path,
		limit: limit,
		seen:  make(map[int64]struct{}),
	}
}

// Load reads the persisted array under a shared lock. A missing or
// unreadable file is not fatal: the run proceeds with an empty ledger
// and a warning, accepting the over-publication risk.
func (l *FileLedger) Load() error {
	ids, err := l.readLocked()
	if err != nil {
		logger.Warn("ledger unreadable, starting empty", "path", l.path, "error", err)
		ids = nil
	}

	l.setIDs(ids)
	metrics.LedgerSize.Set(float64(len(l.ids)))
	return nil
}

func (l *FileLedger) Contains(id int64) bool {
	_, ok := l.seen[id]
	return ok
}

func (l *FileLedger) Size() int { return len(l.ids) }

func (l *FileLedger) IDs() []int64 {
	out := make([]int64, len(l.ids))
	copy(out, l.ids)
	return out
}

// Append records id and persists immediately. The sequence is: take
// the exclusive lock, re-read the file (another run may have appended
// since our Load), merge, evict oldest entries beyond the cap, write
// atomically, release. This keeps the lost-update window between
// overlapping processes to the read-merge-write of a single id.
func (l *FileLedger) Append(id int64) error {
	lock, err := l.acquire(syscall.LOCK_EX)
	if err != nil {
		return fmt.Errorf("lock ledger: %v", err)
	}
	defer l.release(lock)

	ids, err := readIDs(l.path)
	if err != nil {
		logger.Warn("ledger unreadable on append, rewriting", "path", l.path, "error", err)
		ids = l.ids
	}

	merged := appendUnique(ids, id)
	if excess := len(merged) - l.limit; excess > 0 {
		merged = merged[excess:] // evict oldest, FIFO
	}

	if err := writeAtomic(l.path, merged); err != nil {
		return fmt.Errorf("persist ledger: %v", err)
	}

	l.setIDs(merged)
	metrics.LedgerSize.Set(float64(len(l.ids)))
	return nil
}

// Reset truncates the persisted ledger to an empty array.
func (l *FileLedger) Reset() error {
	lock, err := l.acquire(syscall.LOCK_EX)
	if err != nil {
		return fmt.Errorf("lock ledger: %v", err)
	}
	defer l.release(lock)

	if err := writeAtomic(l.path, []int64{}); err != nil {
		return fmt.Errorf("reset ledger: %v", err)
	}

	l.setIDs(nil)
	metrics.LedgerSize.Set(0)
	return nil
}

func (l *FileLedger) setIDs(ids []int64) {
	l.ids = ids
	l.seen = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		l.seen[id] = struct{}{}
	}
}

// readLocked reads the ledger file under a shared lock.
func (l *FileLedger) readLocked() ([]int64, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return nil, nil
	}

	lock, err := l.acquire(syscall.LOCK_SH)
	if err != nil {
		return nil, err
	}
	defer l.release(lock)

	return readIDs(l.path)
}

// acquire takes a flock on the sidecar lock file. Locking a sidecar
// rather than the data file keeps the lock valid across the
// rename-replace in writeAtomic.
func (l *FileLedger) acquire(how int) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (l *FileLedger) release(f *os.File) {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		logger.Warn("failed to unlock ledger", "error", err)
	}
	f.Close()
}

func readIDs(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("corrupt ledger: %v", err)
	}
	return ids, nil
}

// writeAtomic replaces path with a complete new array via a temp file
// in the same directory followed by rename.
func writeAtomic(path string, ids []int64) error {
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".posted-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
