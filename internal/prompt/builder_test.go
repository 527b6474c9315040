package prompt

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/imkarma/relay/internal/events"
	"github.com/imkarma/relay/internal/store"
)

func testBuilder(t *testing.T) (*Builder, *store.Store, *events.Log) {
	t.Helper()

	root := t.TempDir()
	st, err := store.New(filepath.Join(root, "store"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	log, err := events.Open(filepath.Join(root, "events.db"))
	if err != nil {
		t.Fatalf("events.Open: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	return New(st, log), st, log
}

func TestBuild_IncludesTaskSnapshot(t *testing.T) {
	b, st, _ := testBuilder(t)
	if _, err := st.Save("CU-1", store.Patch{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.SaveInfo("CU-1", &store.TaskInfo{
		TaskID:      "CU-1",
		Title:       "Fix login page",
		Description: "The login button is broken",
		SourceURL:   "https://tracker.example.com/t/CU-1",
	}); err != nil {
		t.Fatalf("SaveInfo: %v", err)
	}

	got, err := b.Build("CU-1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, want := range []string{"Fix login page", "login button is broken", "tracker.example.com", "## Instructions"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "rejected") {
		t.Error("fresh task should have no rejection section")
	}
}

func TestBuild_WithoutInfoFallsBackToID(t *testing.T) {
	b, st, _ := testBuilder(t)
	if _, err := st.Save("CU-2", store.Patch{}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := b.Build("CU-2")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(got, "CU-2") {
		t.Errorf("prompt missing task id:\n%s", got)
	}
}

func TestBuild_IncludesRevisionHistory(t *testing.T) {
	b, st, _ := testBuilder(t)
	if _, err := st.Save("CU-3", store.Patch{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	now := time.Now().UTC()
	for i, fb := range []string{"missing tests", "tests still flaky"} {
		if _, err := st.Save("CU-3", store.Patch{
			AppendRevision: &store.Revision{Iteration: i + 1, Timestamp: now, Feedback: fb},
		}); err != nil {
			t.Fatalf("Save revision: %v", err)
		}
	}

	got, err := b.Build("CU-3")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(got, "Revision 1") || !strings.Contains(got, "missing tests") {
		t.Errorf("prompt missing first revision:\n%s", got)
	}
	if !strings.Contains(got, "Revision 2") || !strings.Contains(got, "tests still flaky") {
		t.Errorf("prompt missing second revision:\n%s", got)
	}
}

func TestBuild_IncludesFailureEvents(t *testing.T) {
	b, st, log := testBuilder(t)
	if _, err := st.Save("CU-4", store.Patch{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := log.Add("CU-4", "orchestrator", "tests_failed", "FAIL: TestCheckout"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := log.Add("CU-4", "orchestrator", "dispatched", "run abc"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := b.Build("CU-4")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(got, "TestCheckout") {
		t.Errorf("prompt missing failure history:\n%s", got)
	}
	if strings.Contains(got, "dispatched") {
		t.Error("routine events should not appear in the prompt")
	}
}

func TestBuild_UnknownTask(t *testing.T) {
	b, _, _ := testBuilder(t)

	if _, err := b.Build("ghost"); err == nil {
		t.Error("expected error for unknown task")
	}
}
