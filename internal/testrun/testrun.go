// Package testrun executes the project's configured test command after an
// agent run. Framework detection heuristics live outside relay; the command
// is whatever the project config says it is.
package testrun

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/imkarma/relay/internal/config"
)

// Result is the outcome of one test run.
type Result struct {
	Passed   bool
	Output   string
	Duration time.Duration
}

// Runner runs the project's tests in a working directory.
type Runner interface {
	Run(ctx context.Context, workDir string) (*Result, error)
}

// Command runs the configured test command as a subprocess.
type Command struct {
	cfg config.Tests
}

// NewCommand creates a runner for the configured test command.
func NewCommand(cfg config.Tests) *Command {
	return &Command{cfg: cfg}
}

// Run executes the test command and reports pass/fail by exit code. With no
// command configured the run passes trivially; the pipeline still works for
// projects without tests. Only launch failures are returned as errors; a
// failing test suite is a normal Result.
func (c *Command) Run(ctx context.Context, workDir string) (*Result, error) {
	if c.cfg.Cmd == "" {
		return &Result{Passed: true, Output: "no test command configured"}, nil
	}

	start := time.Now()
	timeout := time.Duration(c.cfg.DefaultTimeout()) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.Cmd, c.cfg.Args...)
	cmd.Dir = workDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res := &Result{
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		res.Passed = true
		return res, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.Output += fmt.Sprintf("\ntests timed out after %s", timeout)
		return res, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return res, nil // Tests ran and failed.
	}
	return nil, fmt.Errorf("run tests: %w", err)
}
