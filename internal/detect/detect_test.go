package detect

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/imkarma/relay/internal/store"
)

func testDetector(t *testing.T, interval, staleAfter time.Duration) (*Detector, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "relay"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return New(s, interval, staleAfter), s
}

func writeOutcome(t *testing.T, s *store.Store, taskID string, r Result) {
	t.Helper()
	path, err := s.OutcomePath(taskID)
	if err != nil {
		t.Fatalf("outcome path: %v", err)
	}
	// Task dir exists once state has been saved at least once.
	if _, err := s.Save(taskID, store.Patch{}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	if err := WriteResult(path, r); err != nil {
		t.Fatalf("write result: %v", err)
	}
}

func TestWait_CompletedSuccess(t *testing.T) {
	d, s := testDetector(t, time.Millisecond, time.Second)
	writeOutcome(t, s, "CU-1", Result{Success: true, Details: "all edits applied"})

	out, err := d.Wait(context.Background(), "CU-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Kind != KindCompleted || !out.Success {
		t.Errorf("expected completed success, got %+v", out)
	}
	if out.Details != "all edits applied" {
		t.Errorf("expected details preserved, got %q", out.Details)
	}

	st, _ := s.Load("CU-1")
	if st.AgentCompletion.DetectionStartedAt == nil {
		t.Error("expected DetectionStartedAt recorded")
	}
	if st.AgentCompletion.CompletionDetectedAt == nil {
		t.Error("expected CompletionDetectedAt recorded")
	}
}

func TestWait_CompletedFailure(t *testing.T) {
	d, s := testDetector(t, time.Millisecond, time.Second)
	writeOutcome(t, s, "CU-1", Result{Success: false, Details: "exit code 2"})

	out, err := d.Wait(context.Background(), "CU-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Kind != KindCompleted || out.Success {
		t.Errorf("expected completed failure, got %+v", out)
	}
}

func TestWait_Stale(t *testing.T) {
	d, s := testDetector(t, time.Millisecond, 20*time.Millisecond)
	s.Save("CU-1", store.Patch{})

	out, err := d.Wait(context.Background(), "CU-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Kind != KindStale {
		t.Fatalf("expected stale, got %+v", out)
	}
	if out.Details == "" {
		t.Error("expected non-empty stale details")
	}

	// The poll loop left a heartbeat behind.
	st, _ := s.Load("CU-1")
	if st.AgentCompletion.LastCheckedAt == nil {
		t.Error("expected LastCheckedAt heartbeat")
	}
}

func TestWait_Cancelled(t *testing.T) {
	d, s := testDetector(t, time.Millisecond, time.Minute)
	s.Save("CU-1", store.Patch{})

	if err := d.Cancel("CU-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	out, err := d.Wait(context.Background(), "CU-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Kind != KindCancelled {
		t.Errorf("expected cancelled, got %+v", out)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	d, s := testDetector(t, 5*time.Millisecond, time.Minute)
	s.Save("CU-1", store.Patch{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	out, err := d.Wait(ctx, "CU-1")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Kind != KindCancelled {
		t.Errorf("expected cancelled on context done, got %+v", out)
	}
}

func TestCheck_InFlight(t *testing.T) {
	d, s := testDetector(t, time.Second, time.Minute)
	s.Save("CU-1", store.Patch{})

	_, done, err := d.Check("CU-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if done {
		t.Error("expected in-flight run to not be done")
	}

	st, _ := s.Load("CU-1")
	if st.AgentCompletion.LastCheckedAt == nil {
		t.Error("expected heartbeat after single check")
	}
}

func TestIsStale(t *testing.T) {
	d, _ := testDetector(t, time.Second, time.Minute)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	fresh := base.Add(-30 * time.Second)
	old := base.Add(-2 * time.Minute)

	tests := []struct {
		name  string
		state store.TaskState
		want  bool
	}{
		{"no timestamps", store.TaskState{}, false},
		{"fresh heartbeat", store.TaskState{AgentCompletion: store.AgentCompletion{LastCheckedAt: &fresh}}, false},
		{"old heartbeat", store.TaskState{AgentCompletion: store.AgentCompletion{LastCheckedAt: &old}}, true},
		{"never checked, old start", store.TaskState{AgentCompletion: store.AgentCompletion{DetectionStartedAt: &old}}, true},
		{"never checked, fresh start", store.TaskState{AgentCompletion: store.AgentCompletion{DetectionStartedAt: &fresh}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsStale(&tt.state); got != tt.want {
				t.Errorf("IsStale = %v, want %v", got, tt.want)
			}
		})
	}
}
