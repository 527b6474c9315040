// Package prompt builds the brief an agent reads before working on a task.
// Think of it as assembling the ticket: tracker snapshot, rejection history,
// and the ground rules, composed from persisted task data only.
package prompt

import (
	"fmt"
	"strings"

	"github.com/imkarma/relay/internal/events"
	"github.com/imkarma/relay/internal/store"
)

// Builder composes agent prompts from the store and the event log.
type Builder struct {
	store *store.Store
	log   *events.Log // optional
}

// New creates a prompt builder. The event log may be nil.
func New(st *store.Store, log *events.Log) *Builder {
	return &Builder{store: st, log: log}
}

// Build creates the full prompt for a task. The prompt includes:
// 1. The task title, description, and source link
// 2. Rejection history, so a revision run knows what to fix
// 3. Relevant prior events (test failures, errors)
// 4. Working instructions
func (b *Builder) Build(taskID string) (string, error) {
	st, err := b.store.Load(taskID)
	if err != nil {
		return "", err
	}
	if st == nil {
		return "", fmt.Errorf("no state for task %s", taskID)
	}
	info, err := b.store.LoadInfo(taskID)
	if err != nil {
		return "", err
	}

	var parts []string
	parts = append(parts, taskSection(taskID, info))

	if rev := revisionSection(st); rev != "" {
		parts = append(parts, rev)
	}
	if hist := b.eventHistory(taskID); hist != "" {
		parts = append(parts, hist)
	}

	parts = append(parts, instructions())
	return strings.Join(parts, "\n\n"), nil
}

func taskSection(taskID string, info *store.TaskInfo) string {
	var sb strings.Builder

	title := taskID
	if info != nil && info.Title != "" {
		title = info.Title
	}
	sb.WriteString("## Task\n")
	fmt.Fprintf(&sb, "**%s: %s**\n", taskID, title)

	if info != nil && info.Description != "" {
		fmt.Fprintf(&sb, "\n### Description\n%s\n", info.Description)
	}
	if info != nil && info.SourceURL != "" {
		fmt.Fprintf(&sb, "\nSource: %s\n", info.SourceURL)
	}
	return sb.String()
}

// revisionSection lists every rejection so far, newest last. A revision run
// must address the latest feedback without regressing earlier fixes.
func revisionSection(st *store.TaskState) string {
	if len(st.Revisions) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Previous attempts were rejected\n")
	for _, r := range st.Revisions {
		fmt.Fprintf(&sb, "- Revision %d (%s): %s\n",
			r.Iteration, r.Timestamp.Format("2006-01-02 15:04"), r.Feedback)
	}
	sb.WriteString("\nAddress the most recent feedback first.")
	return sb.String()
}

// eventHistory surfaces prior failures from the audit log so the agent does
// not repeat them.
func (b *Builder) eventHistory(taskID string) string {
	if b.log == nil {
		return ""
	}
	evs, err := b.log.List(taskID)
	if err != nil {
		return ""
	}

	var relevant []events.Event
	for _, e := range evs {
		switch e.Kind {
		case "tests_failed", "error":
			relevant = append(relevant, e)
		}
	}
	if len(relevant) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## History\n")
	for _, e := range relevant {
		fmt.Fprintf(&sb, "- %s: %s\n", e.Kind, e.Content)
	}
	return sb.String()
}

func instructions() string {
	return `## Instructions
- Make the changes needed to complete this task
- Stay on the task's branch; do not touch unrelated code
- Run the project's tests before finishing
- If something is unclear, state it explicitly rather than guessing`
}
