// Package agent defines the boundary to the external coding agent. The agent
// is a black box that edits files in the workspace and eventually signals
// completion; relay only starts it, captures its log, and (best effort)
// stops it. Completion is observed by the detector through the outcome
// marker the adapter writes when the process exits.
package agent

import "context"

// Run contains everything needed to launch one agent run.
type Run struct {
	TaskID      string // Task id for tracking
	Prompt      string // The full prompt with task context
	WorkDir     string // Working directory (repo checkout)
	OutcomePath string // Where the completion marker gets written
	LogPath     string // Where the agent's combined output is captured
	TimeoutSec  int    // Max run time; past it the process is killed
}

// Trigger launches and stops external agent runs.
type Trigger interface {
	// Start launches the agent asynchronously and returns once the process
	// is running. The completion marker is written when the run ends.
	Start(ctx context.Context, run Run) error

	// Stop requests termination of a task's in-flight run. Best effort:
	// an unknown or already-finished task is not an error.
	Stop(taskID string) error
}
