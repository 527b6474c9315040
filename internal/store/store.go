// Package store persists per-task status documents on the filesystem.
// Every write produces a complete new document swapped in by rename, so a
// concurrent reader never observes a half-written file. The store assumes a
// single writer per task; different tasks never contend.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrUnsafeTaskID is returned when a task id could be used to escape the
// managed roots. Validation happens before any path is built from the id.
var ErrUnsafeTaskID = errors.New("unsafe task id")

const (
	tasksDirName    = "tasks"
	stateFileName   = "state.json"
	infoFileName    = "info.json"
	logFileName     = "agent.log"
	outcomeFileName = "outcome.json"
	cancelFileName  = "cancel"
	currentFileName = "current.json"

	maxTaskIDLen = 128
)

// Store reads and writes task documents under a single data root.
type Store struct {
	root string
}

// New creates (or reopens) a store rooted at the given directory.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, tasksDirName), 0755); err != nil {
		return nil, fmt.Errorf("create tasks dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute data root the store manages.
func (s *Store) Root() string { return s.root }

// ValidateTaskID rejects ids that are empty, oversized, or contain anything
// outside [A-Za-z0-9._-], as well as the "." and ".." names. Task ids come
// from an external tracker and are used as path components, so this is the
// single choke point for path traversal.
func ValidateTaskID(id string) error {
	if id == "" || len(id) > maxTaskIDLen {
		return fmt.Errorf("%w: %q", ErrUnsafeTaskID, id)
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrUnsafeTaskID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return fmt.Errorf("%w: %q", ErrUnsafeTaskID, id)
		}
	}
	return nil
}

// TaskDir returns the artifact directory for a task after validating the id.
func (s *Store) TaskDir(taskID string) (string, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, tasksDirName, taskID), nil
}

// LogPath returns the path of the task's agent log artifact.
func (s *Store) LogPath(taskID string) (string, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, logFileName), nil
}

// OutcomePath returns the path of the agent's completion marker.
func (s *Store) OutcomePath(taskID string) (string, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, outcomeFileName), nil
}

// CancelPath returns the path of the task's cancellation marker.
func (s *Store) CancelPath(taskID string) (string, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, cancelFileName), nil
}

// Load returns the persisted state for a task, or (nil, nil) if none exists.
// Absence is a normal condition, not an error.
func (s *Store) Load(taskID string) (*TaskState, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st TaskState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &st, nil
}

// Save merges the patch over the previously persisted state, stamps
// UpdatedAt, and writes the document atomically. A task with no prior state
// is created in StatePending.
func (s *Store) Save(taskID string, p Patch) (*TaskState, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return nil, err
	}

	st, err := s.Load(taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if st == nil {
		st = &TaskState{
			TaskID:    taskID,
			State:     StatePending,
			CreatedAt: now,
		}
	}

	applyPatch(st, p)

	// UpdatedAt is monotonic even when the clock steps backwards or two
	// writes land within the same tick.
	if !now.After(st.UpdatedAt) {
		now = st.UpdatedAt.Add(time.Microsecond)
	}
	st.UpdatedAt = now

	if !st.State.Valid() {
		return nil, fmt.Errorf("invalid task state %q for %s", st.State, taskID)
	}

	if err := writeJSONAtomic(filepath.Join(dir, stateFileName), st); err != nil {
		return nil, err
	}
	return st, nil
}

func applyPatch(st *TaskState, p Patch) {
	if p.State != nil {
		st.State = *p.State
	}
	if p.WorkspaceRef != nil {
		st.WorkspaceRef = *p.WorkspaceRef
	}
	if p.BranchName != nil {
		st.BranchName = *p.BranchName
	}
	if p.Error != nil {
		st.Error = *p.Error
	}
	if p.CurrentStep != nil {
		st.CurrentStep = *p.CurrentStep
	}
	if len(p.Metadata) > 0 {
		if st.Metadata == nil {
			st.Metadata = make(map[string]string, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			st.Metadata[k] = v
		}
	}
	if p.BaseCommitHash != nil {
		st.BaseCommitHash = *p.BaseCommitHash
	}
	if p.DetectionStartedAt != nil {
		st.AgentCompletion.DetectionStartedAt = p.DetectionStartedAt
	}
	if p.LastCheckedAt != nil {
		st.AgentCompletion.LastCheckedAt = p.LastCheckedAt
	}
	if p.CompletionDetectedAt != nil {
		st.AgentCompletion.CompletionDetectedAt = p.CompletionDetectedAt
	}
	if p.AppendRevision != nil {
		rev := *p.AppendRevision
		if rev.Iteration == 0 {
			rev.Iteration = st.NextIteration()
		}
		st.Revisions = append(st.Revisions, rev)
	}
	if p.LastRejectionAt != nil {
		st.LastRejectionAt = p.LastRejectionAt
	}
	if p.LastRejectionFeedback != nil {
		st.LastRejectionFeedback = *p.LastRejectionFeedback
	}
}

// SaveInfo caches the tracker snapshot for a task. Written once on import.
func (s *Store) SaveInfo(taskID string, info *TaskInfo) error {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return err
	}
	info.TaskID = taskID
	if info.FetchedAt.IsZero() {
		info.FetchedAt = time.Now().UTC()
	}
	return writeJSONAtomic(filepath.Join(dir, infoFileName), info)
}

// LoadInfo returns the cached tracker snapshot, or (nil, nil) if none exists.
func (s *Store) LoadInfo(taskID string) (*TaskInfo, error) {
	dir, err := s.TaskDir(taskID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, infoFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read info: %w", err)
	}
	var info TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse info: %w", err)
	}
	return &info, nil
}

// List returns every persisted task state, sorted by task id.
func (s *Store) List() ([]TaskState, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, tasksDirName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tasks dir: %w", err)
	}

	var out []TaskState
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := s.Load(e.Name())
		if err != nil || st == nil {
			continue
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

// currentSnapshot is the on-disk shape of the process-wide current pointer.
type currentSnapshot struct {
	TaskID    string    `json:"task_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetCurrent points the process-wide status snapshot at the given task.
// Only the task that is actually running should call this.
func (s *Store) SetCurrent(taskID string) error {
	if err := ValidateTaskID(taskID); err != nil {
		return err
	}
	snap := currentSnapshot{TaskID: taskID, UpdatedAt: time.Now().UTC()}
	return writeJSONAtomic(filepath.Join(s.root, currentFileName), snap)
}

// Current returns the task id the status snapshot points at, or "" if unset.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, currentFileName))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read current: %w", err)
	}
	var snap currentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return "", fmt.Errorf("parse current: %w", err)
	}
	return snap.TaskID, nil
}

// ClearCurrentIf removes the status snapshot only if it references exactly
// the given task id. A pointer owned by a different task is never touched.
// Returns whether the pointer was cleared.
func (s *Store) ClearCurrentIf(taskID string) (bool, error) {
	cur, err := s.Current()
	if err != nil {
		return false, err
	}
	if cur == "" || cur != taskID {
		return false, nil
	}
	err = os.Remove(filepath.Join(s.root, currentFileName))
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("clear current: %w", err)
	}
	return true, nil
}

// writeJSONAtomic writes v as indented JSON via a temp file and rename, so
// readers only ever see complete documents.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
