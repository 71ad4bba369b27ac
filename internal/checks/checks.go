// Package checks runs a project's validation commands (type-check, lint,
// tests) to gate whether a batch of synced changes gets committed.
package checks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single check command.
const DefaultTimeout = 10 * time.Minute

// Runner runs validation commands inside a project directory.
type Runner interface {
	// Run executes every command in order and returns an error describing
	// the first one that fails.
	Run(ctx context.Context, dir string, commands []string) error
}

// ShellRunner implements Runner by running each command through sh -c
type ShellRunner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewShellRunner creates a runner. A zero timeout means DefaultTimeout.
func NewShellRunner(timeout time.Duration, logger *slog.Logger) *ShellRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShellRunner{timeout: timeout, logger: logger}
}

// Run executes the commands sequentially and stops at the first failure.
func (r *ShellRunner) Run(ctx context.Context, dir string, commands []string) error {
	for _, command := range commands {
		if strings.TrimSpace(command) == "" {
			continue
		}
		r.logger.Info("running check", "command", command)
		if err := r.runOne(ctx, dir, command); err != nil {
			return err
		}
	}
	return nil
}

func (r *ShellRunner) runOne(ctx context.Context, dir, command string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	// Children of sh may hold the output pipe open after a kill
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("check %q timed out after %s", command, r.timeout)
		}
		return fmt.Errorf("check %q failed: %w: %s", command, err, strings.TrimSpace(string(output)))
	}
	return nil
}
