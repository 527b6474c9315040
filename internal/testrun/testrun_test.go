package testrun

import (
	"context"
	"strings"
	"testing"

	"github.com/imkarma/relay/internal/config"
)

func TestRun_Pass(t *testing.T) {
	r := NewCommand(config.Tests{Cmd: "sh", Args: []string{"-c", "echo ok"}})

	res, err := r.Run(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Passed {
		t.Error("expected pass")
	}
	if !strings.Contains(res.Output, "ok") {
		t.Errorf("expected output captured, got %q", res.Output)
	}
}

func TestRun_Fail(t *testing.T) {
	r := NewCommand(config.Tests{Cmd: "sh", Args: []string{"-c", "echo boom; exit 1"}})

	res, err := r.Run(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed {
		t.Error("expected failure")
	}
	if !strings.Contains(res.Output, "boom") {
		t.Errorf("expected failure output captured, got %q", res.Output)
	}
}

func TestRun_NoCommandConfigured(t *testing.T) {
	r := NewCommand(config.Tests{})

	res, err := r.Run(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Passed {
		t.Error("expected trivial pass with no command")
	}
}

func TestRun_LaunchError(t *testing.T) {
	r := NewCommand(config.Tests{Cmd: "definitely-not-a-real-binary-xyz"})

	if _, err := r.Run(context.Background(), t.TempDir()); err == nil {
		t.Error("expected launch error")
	}
}

func TestRun_Timeout(t *testing.T) {
	r := NewCommand(config.Tests{Cmd: "sleep", Args: []string{"5"}, TimeoutSec: 1})

	res, err := r.Run(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed {
		t.Error("expected timed-out run to fail")
	}
	if !strings.Contains(res.Output, "timed out") {
		t.Errorf("expected timeout note, got %q", res.Output)
	}
}
