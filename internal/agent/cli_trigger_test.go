package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imkarma/relay/internal/config"
	"github.com/imkarma/relay/internal/detect"
)

// waitForOutcome polls for the outcome marker the trigger writes on exit.
func waitForOutcome(t *testing.T, path string) detect.Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			var r detect.Result
			if err := json.Unmarshal(data, &r); err != nil {
				t.Fatalf("parse outcome: %v", err)
			}
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("outcome marker never appeared")
	return detect.Result{}
}

func TestStart_WritesOutcomeOnSuccess(t *testing.T) {
	dir := t.TempDir()
	trig := NewCLITrigger(config.Agent{Cmd: "true"})

	run := Run{
		TaskID:      "CU-1",
		Prompt:      "do the thing",
		WorkDir:     dir,
		OutcomePath: filepath.Join(dir, "outcome.json"),
		LogPath:     filepath.Join(dir, "agent.log"),
	}
	if err := trig.Start(context.Background(), run); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := waitForOutcome(t, run.OutcomePath)
	if !r.Success {
		t.Errorf("expected success, got %+v", r)
	}
	if r.FinishedAt.IsZero() {
		t.Error("expected FinishedAt stamped")
	}
}

func TestStart_WritesOutcomeOnFailure(t *testing.T) {
	dir := t.TempDir()
	trig := NewCLITrigger(config.Agent{Cmd: "false"})

	run := Run{
		TaskID:      "CU-1",
		WorkDir:     dir,
		OutcomePath: filepath.Join(dir, "outcome.json"),
		LogPath:     filepath.Join(dir, "agent.log"),
	}
	if err := trig.Start(context.Background(), run); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := waitForOutcome(t, run.OutcomePath)
	if r.Success {
		t.Errorf("expected failure outcome, got %+v", r)
	}
	if r.Details == "" {
		t.Error("expected failure details")
	}
}

func TestStart_CapturesLog(t *testing.T) {
	dir := t.TempDir()
	trig := NewCLITrigger(config.Agent{Cmd: "sh", Args: []string{"-c", "echo hello-from-agent"}})

	run := Run{
		TaskID:      "CU-1",
		WorkDir:     dir,
		OutcomePath: filepath.Join(dir, "outcome.json"),
		LogPath:     filepath.Join(dir, "agent.log"),
	}
	if err := trig.Start(context.Background(), run); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForOutcome(t, run.OutcomePath)

	data, err := os.ReadFile(run.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "hello-from-agent\n" {
		t.Errorf("unexpected log contents: %q", string(data))
	}
}

func TestStart_UnknownCommand(t *testing.T) {
	dir := t.TempDir()
	trig := NewCLITrigger(config.Agent{Cmd: "definitely-not-a-real-binary-xyz"})

	err := trig.Start(context.Background(), Run{
		TaskID:      "CU-1",
		WorkDir:     dir,
		OutcomePath: filepath.Join(dir, "outcome.json"),
		LogPath:     filepath.Join(dir, "agent.log"),
	})
	if err == nil {
		t.Error("expected launch error for unknown command")
	}
}

func TestStop_KillsRun(t *testing.T) {
	dir := t.TempDir()
	trig := NewCLITrigger(config.Agent{Cmd: "sleep", Args: []string{"60"}})

	run := Run{
		TaskID:      "CU-1",
		WorkDir:     dir,
		OutcomePath: filepath.Join(dir, "outcome.json"),
		LogPath:     filepath.Join(dir, "agent.log"),
	}
	if err := trig.Start(context.Background(), run); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := trig.Stop("CU-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	r := waitForOutcome(t, run.OutcomePath)
	if r.Success {
		t.Error("expected stopped run to report failure")
	}
}

func TestStop_UnknownTaskIsNoop(t *testing.T) {
	trig := NewCLITrigger(config.Agent{Cmd: "true"})
	if err := trig.Stop("never-started"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}
