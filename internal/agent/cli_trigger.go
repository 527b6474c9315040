package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/imkarma/relay/internal/config"
	"github.com/imkarma/relay/internal/detect"
)

// CLITrigger spawns an external CLI agent (claude, cursor-agent, codex, ...)
// and passes the task prompt as the last argument. The process runs detached
// from the caller: its combined output streams into the task's log artifact
// and an outcome marker is written when it exits, so a completion is
// observable even if the dispatching command has long returned.
type CLITrigger struct {
	cfg config.Agent

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewCLITrigger creates a trigger that spawns CLI agent processes.
func NewCLITrigger(cfg config.Agent) *CLITrigger {
	return &CLITrigger{
		cfg:     cfg,
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches the agent for one run. The returned error covers launch
// failures only; run failures surface through the outcome marker.
func (t *CLITrigger) Start(ctx context.Context, run Run) error {
	args := make([]string, len(t.cfg.Args))
	copy(args, t.cfg.Args)
	args = append(args, run.Prompt)

	timeout := time.Duration(t.cfg.DefaultTimeout()) * time.Second
	if run.TimeoutSec > 0 {
		timeout = time.Duration(run.TimeoutSec) * time.Second
	}

	// The run outlives the dispatch call, so its lifetime hangs off the
	// background context rather than the caller's.
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)

	if err := os.MkdirAll(filepath.Dir(run.LogPath), 0755); err != nil {
		cancel()
		return fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.Create(run.LogPath)
	if err != nil {
		cancel()
		return fmt.Errorf("create agent log: %w", err)
	}

	cmd := exec.CommandContext(runCtx, t.cfg.Cmd, args...)
	cmd.Dir = run.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		cancel()
		return fmt.Errorf("start agent %s: %w", t.cfg.Cmd, err)
	}

	t.mu.Lock()
	t.running[run.TaskID] = cancel
	t.mu.Unlock()

	go func() {
		defer cancel()
		waitErr := cmd.Wait()
		logFile.Close()

		t.mu.Lock()
		delete(t.running, run.TaskID)
		t.mu.Unlock()

		result := detect.Result{Success: waitErr == nil}
		switch {
		case runCtx.Err() == context.DeadlineExceeded:
			result.Details = fmt.Sprintf("agent timed out after %s", timeout)
		case waitErr != nil:
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				result.Details = fmt.Sprintf("agent exited with code %d", exitErr.ExitCode())
			} else {
				result.Details = waitErr.Error()
			}
		}
		// A failed marker write leaves the run to the stale-timeout path.
		_ = detect.WriteResult(run.OutcomePath, result)
	}()

	return nil
}

// Stop kills a task's in-flight agent process. Unknown tasks are a no-op.
func (t *CLITrigger) Stop(taskID string) error {
	t.mu.Lock()
	cancel, ok := t.running[taskID]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// CLIAvailable checks if the CLI command exists in PATH.
func CLIAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}
