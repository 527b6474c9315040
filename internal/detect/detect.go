// Package detect decides when an externally-triggered agent run has
// finished, failed, or hung. The agent is a black box: the only signals are
// the outcome marker it (or its adapter) writes into the task's artifact
// directory, a cancellation marker, and the passage of time. Detection is
// cooperative polling: one bounded filesystem read per tick, sleeping in
// between, never a blocking wait.
package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/imkarma/relay/internal/store"
)

// Kind classifies how a detection run ended.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindStale     Kind = "stale"
	KindCancelled Kind = "cancelled"
)

// Outcome is the detector's verdict for one agent run.
type Outcome struct {
	Kind    Kind
	Success bool   // Meaningful only for KindCompleted
	Details string
}

// Result is the completion marker an agent adapter writes when the external
// run ends. Its presence is the explicit completion signal.
type Result struct {
	Success    bool      `json:"success"`
	Details    string    `json:"details,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// WriteResult persists the completion marker atomically so the detector
// never reads a half-written document.
func WriteResult(path string, r Result) error {
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename result: %w", err)
	}
	return nil
}

// Detector polls a running task's artifact footprint.
type Detector struct {
	store      *store.Store
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// New creates a detector with the given poll interval and stale timeout.
func New(st *store.Store, interval, staleAfter time.Duration) *Detector {
	return &Detector{
		store:      st,
		interval:   interval,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Cancel marks a task for cancellation. The next poll observes the marker
// and returns KindCancelled without further waiting.
func (d *Detector) Cancel(taskID string) error {
	path, err := d.store.CancelPath(taskID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return fmt.Errorf("write cancel marker: %w", err)
	}
	return nil
}

// Wait polls until the agent signals completion, the task is cancelled, or
// the stale timeout elapses with no completion marker. Every poll stamps
// LastCheckedAt on the task state; that timestamp is the heartbeat a
// recovering process uses to judge whether a run from a dead predecessor
// hung. Context cancellation is reported as KindCancelled.
func (d *Detector) Wait(ctx context.Context, taskID string) (Outcome, error) {
	started := d.now()
	if _, err := d.store.Save(taskID, store.Patch{DetectionStartedAt: &started}); err != nil {
		return Outcome{}, fmt.Errorf("record detection start: %w", err)
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		out, done, err := d.Check(taskID, started)
		if err != nil {
			return Outcome{}, err
		}
		if done {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{Kind: KindCancelled, Details: "context cancelled"}, nil
		case <-ticker.C:
		}
	}
}

// Check performs a single bounded poll: cancellation marker, then outcome
// marker, then staleness against the detection start. done=false means the
// run is still in flight.
func (d *Detector) Check(taskID string, started time.Time) (Outcome, bool, error) {
	now := d.now()

	cancelPath, err := d.store.CancelPath(taskID)
	if err != nil {
		return Outcome{}, false, err
	}
	if _, err := os.Stat(cancelPath); err == nil {
		return Outcome{Kind: KindCancelled, Details: "cancellation requested"}, true, nil
	}

	outcomePath, err := d.store.OutcomePath(taskID)
	if err != nil {
		return Outcome{}, false, err
	}
	data, err := os.ReadFile(outcomePath)
	if err == nil {
		var r Result
		if jerr := json.Unmarshal(data, &r); jerr != nil {
			return Outcome{}, false, fmt.Errorf("parse outcome marker: %w", jerr)
		}
		if _, serr := d.store.Save(taskID, store.Patch{CompletionDetectedAt: &now}); serr != nil {
			return Outcome{}, false, serr
		}
		return Outcome{Kind: KindCompleted, Success: r.Success, Details: r.Details}, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Outcome{}, false, fmt.Errorf("read outcome marker: %w", err)
	}

	// Heartbeat.
	if _, err := d.store.Save(taskID, store.Patch{LastCheckedAt: &now}); err != nil {
		return Outcome{}, false, err
	}

	if now.Sub(started) > d.staleAfter {
		return Outcome{
			Kind:    KindStale,
			Details: fmt.Sprintf("no completion signal within %s", d.staleAfter),
		}, true, nil
	}
	return Outcome{}, false, nil
}

// IsStale judges a persisted task state without polling: true when the
// heartbeat (LastCheckedAt, falling back to DetectionStartedAt) is older
// than the stale timeout. Used during crash recovery to fail runs whose
// owning process died.
func (d *Detector) IsStale(st *store.TaskState) bool {
	ref := st.AgentCompletion.LastCheckedAt
	if ref == nil {
		ref = st.AgentCompletion.DetectionStartedAt
	}
	if ref == nil {
		return false
	}
	return d.now().Sub(*ref) > d.staleAfter
}
