// Package queue tracks each task's position in the pipeline as a marker file
// in one of four directories: queued, running, done, failed. A marker only
// ever moves by rename, the one atomic primitive the design relies on, so
// two claimers can never both win the same marker and a task can never be
// duplicated across sets.
package queue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/imkarma/relay/internal/store"
)

var (
	// ErrEmpty is returned by ClaimNext when no queued marker exists.
	ErrEmpty = errors.New("queue is empty")

	// ErrAlreadyQueued is returned by Enqueue when the task already has a
	// marker in queued or running.
	ErrAlreadyQueued = errors.New("task already queued or running")

	// ErrInvariant reports a corrupted queue: more than one marker for a
	// single task. This is never silently resolved.
	ErrInvariant = errors.New("queue invariant violation")
)

// Set names one of the four marker directories.
type Set string

const (
	SetQueued  Set = "queued"
	SetRunning Set = "running"
	SetDone    Set = "done"
	SetFailed  Set = "failed"
)

// Sets lists all marker directories in lifecycle order.
var Sets = []Set{SetQueued, SetRunning, SetDone, SetFailed}

// Entry is a parsed queue marker.
type Entry struct {
	Seq    int64
	TaskID string
	Set    Set
}

// Manager owns the marker directories under a single queue root.
type Manager struct {
	root string

	mu sync.Mutex // serializes sequence allocation within this process
}

// New creates (or reopens) the queue rooted at the given directory.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("queue root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve queue root: %w", err)
	}
	for _, set := range Sets {
		if err := os.MkdirAll(filepath.Join(abs, string(set)), 0755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", set, err)
		}
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute queue root.
func (m *Manager) Root() string { return m.root }

// markerName encodes ordering and identity in the filename alone:
// a zero-padded sequence number, an underscore, then the task id.
func markerName(seq int64, taskID string) string {
	return fmt.Sprintf("%09d_%s", seq, taskID)
}

// parseMarker splits a marker filename back into sequence and task id.
func parseMarker(name string) (int64, string, bool) {
	i := strings.Index(name, "_")
	if i <= 0 || i == len(name)-1 {
		return 0, "", false
	}
	seq, err := strconv.ParseInt(name[:i], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return seq, name[i+1:], true
}

// Enqueue creates a queued marker for the task. Fails with ErrAlreadyQueued
// if the task already sits in queued or running; markers in done/failed do
// not block a re-enqueue (that is how retries work).
func (m *Manager) Enqueue(taskID string) error {
	if err := store.ValidateTaskID(taskID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, set := range []Set{SetQueued, SetRunning} {
		entries, err := m.list(set)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.TaskID == taskID {
				return fmt.Errorf("%w: %s is %s", ErrAlreadyQueued, taskID, set)
			}
		}
	}

	seq, err := m.nextSeq()
	if err != nil {
		return err
	}

	// O_EXCL guards against a second process racing to the same sequence
	// number; on collision we bump and retry.
	for {
		path := filepath.Join(m.root, string(SetQueued), markerName(seq, taskID))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, os.ErrExist) {
			seq++
			continue
		}
		if err != nil {
			return fmt.Errorf("create marker: %w", err)
		}
		return f.Close()
	}
}

// ClaimNext atomically claims the oldest queued marker by renaming it into
// running and returns the claimed task id. Returns ErrEmpty when nothing is
// queued. A rename lost to a concurrent claimer just moves on to the next
// candidate.
func (m *Manager) ClaimNext() (string, error) {
	entries, err := m.list(SetQueued)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	for _, e := range entries {
		name := markerName(e.Seq, e.TaskID)
		src := filepath.Join(m.root, string(SetQueued), name)
		dst := filepath.Join(m.root, string(SetRunning), name)
		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // Lost the race; try the next marker.
			}
			return "", fmt.Errorf("claim %s: %w", e.TaskID, err)
		}
		return e.TaskID, nil
	}
	return "", ErrEmpty
}

// Complete moves the task's running marker into done or failed. A task with
// no running marker is a no-op, so re-invocation after a crash is safe.
func (m *Manager) Complete(taskID string, target Set) error {
	if target != SetDone && target != SetFailed {
		return fmt.Errorf("complete target must be done or failed, got %s", target)
	}
	if err := store.ValidateTaskID(taskID); err != nil {
		return err
	}

	entries, err := m.list(SetRunning)
	if err != nil {
		return err
	}

	var found []Entry
	for _, e := range entries {
		if e.TaskID == taskID {
			found = append(found, e)
		}
	}
	if len(found) == 0 {
		return nil // Already terminal or never claimed; idempotent.
	}
	if len(found) > 1 {
		return fmt.Errorf("%w: %d running markers for %s", ErrInvariant, len(found), taskID)
	}

	name := markerName(found[0].Seq, taskID)
	src := filepath.Join(m.root, string(SetRunning), name)
	dst := filepath.Join(m.root, string(target), name)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // Completed by someone else in the meantime.
		}
		return fmt.Errorf("complete %s: %w", taskID, err)
	}
	return nil
}

// Find returns the task's marker, or ok=false if the task has no marker in
// any set. More than one marker is reported as ErrInvariant.
func (m *Manager) Find(taskID string) (Entry, bool, error) {
	if err := store.ValidateTaskID(taskID); err != nil {
		return Entry{}, false, err
	}

	var found []Entry
	for _, set := range Sets {
		entries, err := m.list(set)
		if err != nil {
			return Entry{}, false, err
		}
		for _, e := range entries {
			if e.TaskID == taskID {
				found = append(found, e)
			}
		}
	}

	switch len(found) {
	case 0:
		return Entry{}, false, nil
	case 1:
		return found[0], true, nil
	default:
		return Entry{}, false, fmt.Errorf("%w: %d markers for %s", ErrInvariant, len(found), taskID)
	}
}

// IsRunning reports whether the task currently holds a running marker.
func (m *Manager) IsRunning(taskID string) (bool, error) {
	if err := store.ValidateTaskID(taskID); err != nil {
		return false, err
	}
	entries, err := m.list(SetRunning)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.TaskID == taskID {
			return true, nil
		}
	}
	return false, nil
}

// Remove deletes the task's marker from whichever set holds it. Returns
// whether a marker was removed; an absent marker is not an error.
func (m *Manager) Remove(taskID string) (bool, error) {
	e, ok, err := m.Find(taskID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	path := filepath.Join(m.root, string(e.Set), markerName(e.Seq, e.TaskID))
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove marker: %w", err)
	}
	return true, nil
}

// Snapshot returns the task ids in each set, ordered by sequence number.
func (m *Manager) Snapshot() (map[Set][]string, error) {
	out := make(map[Set][]string, len(Sets))
	for _, set := range Sets {
		entries, err := m.list(set)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.TaskID)
		}
		out[set] = ids
	}
	return out, nil
}

// list reads the markers currently in a set. Unparseable names are skipped.
func (m *Manager) list(set Set) ([]Entry, error) {
	dirents, err := os.ReadDir(filepath.Join(m.root, string(set)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s dir: %w", set, err)
	}

	var out []Entry
	for _, d := range dirents {
		if d.IsDir() {
			continue
		}
		seq, taskID, ok := parseMarker(d.Name())
		if !ok {
			continue
		}
		out = append(out, Entry{Seq: seq, TaskID: taskID, Set: set})
	}
	return out, nil
}

// nextSeq scans every set for the highest sequence number and returns the
// successor. Sequence numbers are global across sets so FIFO order survives
// markers moving between directories.
func (m *Manager) nextSeq() (int64, error) {
	var max int64
	for _, set := range Sets {
		entries, err := m.list(set)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if e.Seq > max {
				max = e.Seq
			}
		}
	}
	return max + 1, nil
}
