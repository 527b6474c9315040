// Package orchestrator drives tasks through their lifecycle: import, queue,
// agent dispatch, completion detection, tests, approval, publish. Every
// transition is one store save; the orchestrator keeps no in-memory state
// across restarts and reconstructs current work from the store and the queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/imkarma/relay/internal/agent"
	"github.com/imkarma/relay/internal/cleanup"
	"github.com/imkarma/relay/internal/config"
	"github.com/imkarma/relay/internal/detect"
	"github.com/imkarma/relay/internal/events"
	"github.com/imkarma/relay/internal/git"
	"github.com/imkarma/relay/internal/prompt"
	"github.com/imkarma/relay/internal/queue"
	"github.com/imkarma/relay/internal/store"
	"github.com/imkarma/relay/internal/testrun"
	"github.com/imkarma/relay/internal/tracker"
)

var (
	// ErrNotFound is returned when no task with the given id exists.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyExists is returned by Import when a status document for the
	// task already exists.
	ErrAlreadyExists = errors.New("task already exists")

	// ErrWrongState is returned when a transition is requested from a state
	// that does not allow it.
	ErrWrongState = errors.New("transition not allowed from current state")
)

// Orchestrator wires the pipeline's subsystems together.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	queue    *queue.Manager
	detector *detect.Detector
	cleaner  *cleanup.Service
	trigger  agent.Trigger
	tests    testrun.Runner
	tracker  tracker.Client   // optional
	resolver tracker.Resolver // optional, defaults to the configured workspace
	log      *events.Log      // optional
	prompts  *prompt.Builder
	logf     func(format string, args ...any)
}

// Deps carries the orchestrator's collaborators. Tracker, Resolver and Events
// are optional; everything else is required.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Queue    *queue.Manager
	Detector *detect.Detector
	Cleaner  *cleanup.Service
	Trigger  agent.Trigger
	Tests    testrun.Runner
	Tracker  tracker.Client
	Resolver tracker.Resolver
	Events   *events.Log
	Logf     func(format string, args ...any)
}

// New creates an orchestrator.
func New(d Deps) (*Orchestrator, error) {
	if d.Config == nil || d.Store == nil || d.Queue == nil || d.Detector == nil ||
		d.Cleaner == nil || d.Trigger == nil || d.Tests == nil {
		return nil, fmt.Errorf("missing required dependency")
	}
	resolver := d.Resolver
	if resolver == nil {
		resolver = tracker.StaticResolver{Workspace: d.Config.Workspace}
	}
	logf := d.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Orchestrator{
		cfg:      d.Config,
		store:    d.Store,
		queue:    d.Queue,
		detector: d.Detector,
		cleaner:  d.Cleaner,
		trigger:  d.Trigger,
		tests:    d.Tests,
		tracker:  d.Tracker,
		resolver: resolver,
		log:      d.Events,
		prompts:  prompt.New(d.Store, d.Events),
		logf:     logf,
	}, nil
}

// Import creates a PENDING task from a tracker snapshot (or a bare id when no
// tracker is configured) and enqueues it. A second import of the same id is
// rejected with ErrAlreadyExists.
func (o *Orchestrator) Import(ctx context.Context, taskID string) (*store.TaskState, error) {
	if err := store.ValidateTaskID(taskID); err != nil {
		return nil, err
	}

	existing, err := o.store.Load(taskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, taskID)
	}

	info := &store.TaskInfo{TaskID: taskID, Title: taskID}
	if o.tracker != nil {
		fetched, err := o.tracker.FetchTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("fetch task: %w", err)
		}
		info = fetched
	}
	info.FetchedAt = time.Now().UTC()

	workspace, err := o.resolver.Resolve(info)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	if err := o.store.SaveInfo(taskID, info); err != nil {
		return nil, err
	}
	st, err := o.store.Save(taskID, store.Patch{WorkspaceRef: &workspace})
	if err != nil {
		return nil, err
	}

	if err := o.queue.Enqueue(taskID); err != nil {
		return nil, err
	}

	o.event(taskID, "imported", info.Title)
	o.trackStatus(ctx, taskID, "queued")
	return st, nil
}

// DispatchNext claims the queue head and drives it through agent run, test
// run, and into AWAITING_APPROVAL (or ERROR). Returns queue.ErrEmpty when
// nothing is queued. Lifecycle failures are recorded on the task and do not
// come back as errors; only infrastructure faults do.
func (o *Orchestrator) DispatchNext(ctx context.Context) (string, error) {
	taskID, err := o.queue.ClaimNext()
	if err != nil {
		return "", err
	}
	if err := o.runTask(ctx, taskID); err != nil {
		return taskID, err
	}
	return taskID, nil
}

// runTask executes one claimed task: branch, agent, detection, tests.
func (o *Orchestrator) runTask(ctx context.Context, taskID string) error {
	st, err := o.store.Load(taskID)
	if err != nil {
		return err
	}
	if st == nil {
		// Marker without a status document; nothing to drive.
		o.queue.Complete(taskID, queue.SetFailed)
		return fmt.Errorf("%w: %s has a queue marker but no status document", ErrNotFound, taskID)
	}

	workDir := st.WorkspaceRef
	if workDir == "" {
		workDir = o.cfg.Workspace
	}

	if err := o.clearRunMarkers(taskID); err != nil {
		return err
	}

	repo := git.New(workDir)
	branch := git.BranchName(taskID)
	baseCommit := ""
	if repo.IsGitRepo() {
		baseCommit, err = repo.HeadCommit()
		if err != nil {
			return o.fail(ctx, taskID, fmt.Sprintf("read base commit: %v", err))
		}
		if err := repo.CreateBranch(branch); err != nil {
			return o.fail(ctx, taskID, fmt.Sprintf("create branch: %v", err))
		}
	}

	runID := uuid.NewString()
	inProgress := store.StateInProgress
	step := "agent"
	if _, err := o.store.Save(taskID, store.Patch{
		State:          &inProgress,
		BranchName:     &branch,
		BaseCommitHash: &baseCommit,
		CurrentStep:    &step,
		Metadata:       map[string]string{"run_id": runID},
	}); err != nil {
		return err
	}
	if err := o.store.SetCurrent(taskID); err != nil {
		return err
	}
	o.event(taskID, "dispatched", runID)
	o.trackStatus(ctx, taskID, "in progress")

	brief, err := o.writePrompt(taskID, workDir)
	if err != nil {
		return o.fail(ctx, taskID, fmt.Sprintf("prepare prompt: %v", err))
	}

	outcomePath, err := o.store.OutcomePath(taskID)
	if err != nil {
		return err
	}
	logPath, err := o.store.LogPath(taskID)
	if err != nil {
		return err
	}

	if err := o.trigger.Start(ctx, agent.Run{
		TaskID:      taskID,
		Prompt:      brief,
		WorkDir:     workDir,
		OutcomePath: outcomePath,
		LogPath:     logPath,
		TimeoutSec:  o.cfg.Agent.DefaultTimeout(),
	}); err != nil {
		return o.fail(ctx, taskID, fmt.Sprintf("start agent: %v", err))
	}

	outcome, err := o.detector.Wait(ctx, taskID)
	if err != nil {
		o.trigger.Stop(taskID)
		return o.fail(ctx, taskID, fmt.Sprintf("completion detection: %v", err))
	}

	switch outcome.Kind {
	case detect.KindStale:
		o.trigger.Stop(taskID)
		return o.fail(ctx, taskID, "agent run went stale: "+outcome.Details)
	case detect.KindCancelled:
		o.trigger.Stop(taskID)
		return o.fail(ctx, taskID, "run cancelled: "+outcome.Details)
	case detect.KindCompleted:
		if !outcome.Success {
			details := outcome.Details
			if details == "" {
				details = "agent reported failure"
			}
			return o.fail(ctx, taskID, details)
		}
	}
	o.event(taskID, "agent_completed", outcome.Details)

	return o.runTests(ctx, taskID, workDir)
}

// runTests drives TESTING and, on a pass, parks the task at
// AWAITING_APPROVAL. The queue marker stays running until the pipeline
// reaches a verdict; approval itself is a human gate tracked in state only.
func (o *Orchestrator) runTests(ctx context.Context, taskID, workDir string) error {
	testing := store.StateTesting
	step := "tests"
	if _, err := o.store.Save(taskID, store.Patch{State: &testing, CurrentStep: &step}); err != nil {
		return err
	}

	res, err := o.tests.Run(ctx, workDir)
	if err != nil {
		return o.fail(ctx, taskID, fmt.Sprintf("run tests: %v", err))
	}
	if !res.Passed {
		o.event(taskID, "tests_failed", truncate(res.Output, 2000))
		return o.fail(ctx, taskID, "tests failed")
	}
	o.event(taskID, "tests_passed", fmt.Sprintf("duration %s", res.Duration.Round(time.Millisecond)))

	awaiting := store.StateAwaitingApproval
	step = "approval"
	if _, err := o.store.Save(taskID, store.Patch{State: &awaiting, CurrentStep: &step}); err != nil {
		return err
	}
	if err := o.queue.Complete(taskID, queue.SetDone); err != nil {
		return err
	}
	if _, err := o.store.ClearCurrentIf(taskID); err != nil {
		return err
	}
	o.trackStatus(ctx, taskID, "in review")
	return nil
}

// Approve publishes the task's branch and completes the lifecycle.
func (o *Orchestrator) Approve(ctx context.Context, taskID string) error {
	st, err := o.mustLoad(taskID)
	if err != nil {
		return err
	}
	if st.State != store.StateAwaitingApproval {
		return fmt.Errorf("%w: approve from %s", ErrWrongState, st.State)
	}

	approved := store.StateApproved
	step := "publish"
	if _, err := o.store.Save(taskID, store.Patch{State: &approved, CurrentStep: &step}); err != nil {
		return err
	}
	o.event(taskID, "approved", "")

	workDir := st.WorkspaceRef
	if workDir == "" {
		workDir = o.cfg.Workspace
	}
	repo := git.New(workDir)
	if st.BranchName != "" && repo.IsGitRepo() {
		if err := repo.Push(o.cfg.Publish.RemoteName(), st.BranchName); err != nil {
			errored := store.StateError
			msg := fmt.Sprintf("publish: %v", err)
			o.store.Save(taskID, store.Patch{State: &errored, Error: &msg})
			o.event(taskID, "error", msg)
			return fmt.Errorf("publish: %w", err)
		}
	}

	completed := store.StateCompleted
	step = "done"
	if _, err := o.store.Save(taskID, store.Patch{State: &completed, CurrentStep: &step}); err != nil {
		return err
	}
	o.event(taskID, "completed", "")
	o.trackStatus(ctx, taskID, "complete")
	return nil
}

// Reject records rejection feedback as a new revision. The task stays in
// REJECTED until Retry re-drives it.
func (o *Orchestrator) Reject(ctx context.Context, taskID, feedback string) error {
	st, err := o.mustLoad(taskID)
	if err != nil {
		return err
	}
	if st.State != store.StateAwaitingApproval {
		return fmt.Errorf("%w: reject from %s", ErrWrongState, st.State)
	}

	now := time.Now().UTC()
	rejected := store.StateRejected
	if _, err := o.store.Save(taskID, store.Patch{
		State: &rejected,
		AppendRevision: &store.Revision{
			Iteration: st.NextIteration(),
			Timestamp: now,
			Feedback:  feedback,
		},
		LastRejectionAt:       &now,
		LastRejectionFeedback: &feedback,
	}); err != nil {
		return err
	}
	o.event(taskID, "rejected", feedback)
	o.trackStatus(ctx, taskID, "rejected")
	return nil
}

// Retry re-enqueues a REJECTED or ERROR task for another attempt. The old
// terminal queue marker is removed so the new queued marker is the task's
// only one.
func (o *Orchestrator) Retry(ctx context.Context, taskID string) error {
	st, err := o.mustLoad(taskID)
	if err != nil {
		return err
	}
	if st.State != store.StateRejected && st.State != store.StateError {
		return fmt.Errorf("%w: retry from %s", ErrWrongState, st.State)
	}

	running, err := o.queue.IsRunning(taskID)
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("%w: %s still holds a running marker", ErrWrongState, taskID)
	}
	if _, err := o.queue.Remove(taskID); err != nil {
		return err
	}
	if err := o.clearRunMarkers(taskID); err != nil {
		return err
	}

	pending := store.StatePending
	noErr := ""
	step := "queued"
	if _, err := o.store.Save(taskID, store.Patch{
		State:       &pending,
		Error:       &noErr,
		CurrentStep: &step,
	}); err != nil {
		return err
	}
	if err := o.queue.Enqueue(taskID); err != nil {
		return err
	}
	o.event(taskID, "retried", fmt.Sprintf("iteration %d", st.NextIteration()))
	o.trackStatus(ctx, taskID, "queued")
	return nil
}

// Cancel requests cancellation of an in-flight run. The detector's next poll
// observes the marker and the dispatcher fails the task.
func (o *Orchestrator) Cancel(taskID string) error {
	if _, err := o.mustLoad(taskID); err != nil {
		return err
	}
	if err := o.detector.Cancel(taskID); err != nil {
		return err
	}
	o.event(taskID, "cancel_requested", "")
	return nil
}

// Delete erases every artifact of a non-running task.
func (o *Orchestrator) Delete(taskID string) (bool, error) {
	return o.cleaner.Delete(taskID)
}

// DeleteAll erases every non-running task.
func (o *Orchestrator) DeleteAll() (cleanup.Report, error) {
	return o.cleaner.DeleteAll()
}

// Recover rebuilds after a restart: any task that was mid-pipeline under a
// dead process and whose heartbeat is already stale is failed, its running
// marker moved to failed, and the current pointer released. Returns the ids
// of the tasks it failed.
func (o *Orchestrator) Recover(ctx context.Context) ([]string, error) {
	states, err := o.store.List()
	if err != nil {
		return nil, err
	}

	var recovered []string
	for i := range states {
		st := &states[i]
		if st.State != store.StateInProgress && st.State != store.StateTesting {
			continue
		}
		if !o.detector.IsStale(st) {
			continue // May still be owned by a live process.
		}

		o.trigger.Stop(st.TaskID)
		msg := "recovered after restart: heartbeat stale, run presumed dead"
		errored := store.StateError
		if _, err := o.store.Save(st.TaskID, store.Patch{State: &errored, Error: &msg}); err != nil {
			return recovered, err
		}
		if err := o.queue.Complete(st.TaskID, queue.SetFailed); err != nil {
			return recovered, err
		}
		if _, err := o.store.ClearCurrentIf(st.TaskID); err != nil {
			return recovered, err
		}
		o.event(st.TaskID, "recovered", msg)
		recovered = append(recovered, st.TaskID)
	}
	return recovered, nil
}

// fail is the single funnel for ERROR transitions during a run: record the
// message, move the running marker to failed, release the current pointer.
func (o *Orchestrator) fail(ctx context.Context, taskID, msg string) error {
	errored := store.StateError
	if _, err := o.store.Save(taskID, store.Patch{State: &errored, Error: &msg}); err != nil {
		return err
	}
	if err := o.queue.Complete(taskID, queue.SetFailed); err != nil {
		return err
	}
	if _, err := o.store.ClearCurrentIf(taskID); err != nil {
		return err
	}
	o.event(taskID, "error", msg)
	o.trackStatus(ctx, taskID, "failed")
	return nil
}

// mustLoad loads a task's state or reports ErrNotFound.
func (o *Orchestrator) mustLoad(taskID string) (*store.TaskState, error) {
	st, err := o.store.Load(taskID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return st, nil
}

// clearRunMarkers removes leftover outcome and cancel markers from a prior
// attempt so a fresh run starts from a clean signal surface.
func (o *Orchestrator) clearRunMarkers(taskID string) error {
	for _, f := range []func(string) (string, error){o.store.OutcomePath, o.store.CancelPath} {
		path, err := f(taskID)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear run marker: %w", err)
		}
	}
	return nil
}

// writePrompt composes the agent prompt and mirrors it into the workspace's
// workflow directory so the agent (and a human) can read the brief in-repo.
func (o *Orchestrator) writePrompt(taskID, workDir string) (string, error) {
	brief, err := o.prompts.Build(taskID)
	if err != nil {
		return "", err
	}

	dir := cleanup.WorkflowDir(workDir, taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create workflow dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "TASK.md"), []byte(brief), 0644); err != nil {
		return "", fmt.Errorf("write task brief: %w", err)
	}
	return brief, nil
}

// event appends to the audit log when one is configured.
func (o *Orchestrator) event(taskID, kind, content string) {
	if o.log == nil {
		return
	}
	if err := o.log.Add(taskID, "orchestrator", kind, content); err != nil {
		o.logf("event log: %v", err)
	}
}

// trackStatus pushes a status label to the tracker. Best effort; the
// pipeline never fails because the tracker is down.
func (o *Orchestrator) trackStatus(ctx context.Context, taskID, status string) {
	if o.tracker == nil {
		return
	}
	if err := o.tracker.UpdateStatus(ctx, taskID, status); err != nil {
		o.logf("tracker status update for %s: %v", taskID, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
