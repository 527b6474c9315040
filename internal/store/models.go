package store

import "time"

// State represents where a task sits in its lifecycle.
type State string

const (
	StatePending          State = "pending"
	StateInProgress       State = "in_progress"
	StateTesting          State = "testing"
	StateAwaitingApproval State = "awaiting_approval"
	StateApproved         State = "approved"
	StateRejected         State = "rejected"
	StateCompleted        State = "completed"
	StateError            State = "error"
)

// Valid reports whether s is one of the enumerated lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateInProgress, StateTesting, StateAwaitingApproval,
		StateApproved, StateRejected, StateCompleted, StateError:
		return true
	}
	return false
}

// Terminal reports whether s is an end state for the current cycle.
// Terminal states persist for audit; only an explicit delete removes them.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError || s == StateRejected
}

// AgentCompletion tracks the completion-detection heartbeat for a task.
type AgentCompletion struct {
	DetectionStartedAt   *time.Time `json:"detection_started_at,omitempty"`
	LastCheckedAt        *time.Time `json:"last_checked_at,omitempty"`
	CompletionDetectedAt *time.Time `json:"completion_detected_at,omitempty"`
}

// Revision records one rejection cycle. Revisions are append-only and
// iteration numbers grow from 1.
type Revision struct {
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Feedback  string    `json:"feedback"`
}

// TaskState is the persisted status document for a single task.
type TaskState struct {
	TaskID                string            `json:"task_id"`
	State                 State             `json:"state"`
	WorkspaceRef          string            `json:"workspace_ref,omitempty"`
	BranchName            string            `json:"branch_name,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	Error                 string            `json:"error,omitempty"`
	CurrentStep           string            `json:"current_step,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	BaseCommitHash        string            `json:"base_commit_hash,omitempty"`
	AgentCompletion       AgentCompletion   `json:"agent_completion"`
	Revisions             []Revision        `json:"revisions,omitempty"`
	LastRejectionAt       *time.Time        `json:"last_rejection_at,omitempty"`
	LastRejectionFeedback string            `json:"last_rejection_feedback,omitempty"`
}

// NextIteration returns the iteration number the next revision should carry.
func (s *TaskState) NextIteration() int {
	if len(s.Revisions) == 0 {
		return 1
	}
	return s.Revisions[len(s.Revisions)-1].Iteration + 1
}

// TaskInfo is the cached tracker snapshot for a task. It is written once on
// import so the rest of the pipeline never re-fetches the remote task.
type TaskInfo struct {
	TaskID      string    `json:"task_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
	ListName    string    `json:"list_name,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Patch is a partial TaskState update. Nil fields are left untouched;
// Metadata entries are merged additively, never wholesale-replaced.
type Patch struct {
	State                 *State
	WorkspaceRef          *string
	BranchName            *string
	Error                 *string
	CurrentStep           *string
	Metadata              map[string]string
	BaseCommitHash        *string
	DetectionStartedAt    *time.Time
	LastCheckedAt         *time.Time
	CompletionDetectedAt  *time.Time
	AppendRevision        *Revision
	LastRejectionAt       *time.Time
	LastRejectionFeedback *string
}
