// Package cleanup erases every artifact a task left behind: its status
// documents, queue marker, log artifacts, workspace workflow directory,
// event rows, and the process-wide current pointer when it references this
// exact task. Deletion is idempotent, matches task ids exactly (never by
// prefix), and refuses to touch a task that is running.
package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imkarma/relay/internal/events"
	"github.com/imkarma/relay/internal/queue"
	"github.com/imkarma/relay/internal/store"
)

// ErrTaskRunning is returned when deletion is refused because the task holds
// a running marker. No filesystem mutation happens in that case.
var ErrTaskRunning = errors.New("task is running")

// ErrUnsafePath is returned when a resolved deletion target would fall
// outside the allowed roots. The offending operation is aborted; nothing
// else is affected.
var ErrUnsafePath = errors.New("path escapes allowed roots")

// Service deletes task artifacts across all subsystems.
type Service struct {
	store         *store.Store
	queue         *queue.Manager
	log           *events.Log // optional
	workspaceRoot string
	debugf        func(format string, args ...any) // optional, for swallowed IO notes
}

// Config wires a cleanup service.
type Config struct {
	Store         *store.Store
	Queue         *queue.Manager
	Events        *events.Log
	WorkspaceRoot string
	Debugf        func(format string, args ...any)
}

// New creates a cleanup service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("store and queue are required")
	}
	wsRoot := ""
	if cfg.WorkspaceRoot != "" {
		abs, err := filepath.Abs(cfg.WorkspaceRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace root: %w", err)
		}
		wsRoot = abs
	}
	debugf := cfg.Debugf
	if debugf == nil {
		debugf = func(string, ...any) {}
	}
	return &Service{
		store:         cfg.Store,
		queue:         cfg.Queue,
		log:           cfg.Events,
		workspaceRoot: wsRoot,
		debugf:        debugf,
	}, nil
}

// WorkflowDir returns the per-workspace workflow-state directory for a task.
func WorkflowDir(workspaceRoot, taskID string) string {
	return filepath.Join(workspaceRoot, ".relay", "tasks", taskID)
}

// IsRunning reports whether the task holds a running queue marker.
func (s *Service) IsRunning(taskID string) (bool, error) {
	return s.queue.IsRunning(taskID)
}

// Delete removes every artifact belonging to exactly this task id. Returns
// whether anything was actually removed; deleting a never-existing or
// already-deleted task succeeds with found=false. A task holding a running
// marker is refused with ErrTaskRunning before any mutation.
func (s *Service) Delete(taskID string) (bool, error) {
	if err := store.ValidateTaskID(taskID); err != nil {
		return false, err
	}

	running, err := s.queue.IsRunning(taskID)
	if err != nil {
		return false, err
	}
	if running {
		return false, fmt.Errorf("%w: %s", ErrTaskRunning, taskID)
	}

	found := false

	// Queue marker, whichever set holds it.
	removed, err := s.queue.Remove(taskID)
	if err != nil {
		return found, fmt.Errorf("remove queue marker: %w", err)
	}
	found = found || removed

	// Workspace workflow-state subdirectory.
	if s.workspaceRoot != "" {
		dir := WorkflowDir(s.workspaceRoot, taskID)
		removed, err := s.removeAllWithin(s.workspaceRoot, dir)
		if err != nil {
			return found, err
		}
		found = found || removed
	}

	// Event rows, by exact task id.
	if s.log != nil {
		n, err := s.log.DeleteForTask(taskID)
		if err != nil {
			return found, fmt.Errorf("delete events: %w", err)
		}
		found = found || n > 0
	}

	// Task artifact directory: state, info, agent log, outcome marker.
	taskDir, err := s.store.TaskDir(taskID)
	if err != nil {
		return found, err
	}
	removed, err = s.removeAllWithin(s.store.Root(), taskDir)
	if err != nil {
		return found, err
	}
	found = found || removed

	// Current pointer, only if it references exactly this task.
	cleared, err := s.store.ClearCurrentIf(taskID)
	if err != nil {
		return found, fmt.Errorf("clear current pointer: %w", err)
	}
	found = found || cleared

	return found, nil
}

// Report summarizes a bulk deletion.
type Report struct {
	Deleted int
	Errors  []string
}

// DeleteAll removes every known task, skipping (not failing on) tasks found
// running. Per-task failures are collected rather than aborting the batch.
func (s *Service) DeleteAll() (Report, error) {
	var rep Report

	seen := map[string]bool{}

	states, err := s.store.List()
	if err != nil {
		return rep, fmt.Errorf("list tasks: %w", err)
	}
	for _, st := range states {
		seen[st.TaskID] = true
	}

	// Markers without a status document still count as artifacts.
	snap, err := s.queue.Snapshot()
	if err != nil {
		return rep, fmt.Errorf("snapshot queue: %w", err)
	}
	for _, ids := range snap {
		for _, id := range ids {
			seen[id] = true
		}
	}

	for id := range seen {
		if _, err := s.Delete(id); err != nil {
			if errors.Is(err, ErrTaskRunning) {
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s: skipped, task is running", id))
				continue
			}
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		rep.Deleted++
	}
	return rep, nil
}

// removeAllWithin deletes a directory tree after verifying it resolves
// inside the allowed root. A missing target is logged and treated as
// success. Returns whether anything existed to remove.
func (s *Service) removeAllWithin(root, path string) (bool, error) {
	if !within(root, path) {
		return false, fmt.Errorf("%w: %s outside %s", ErrUnsafePath, path, root)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.debugf("cleanup: %s already absent", path)
		return false, nil
	}
	if err := os.RemoveAll(path); err != nil {
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}

// within reports whether path resolves inside root without climbing out.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
