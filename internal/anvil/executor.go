package anvil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Executor provides a consistent interface for executing external commands:
// build steps, git operations and download helpers. It wires up stdio,
// isolates children in their own process group so cancellation kills the
// whole build tree, and enforces an optional per-command timeout.
type Executor struct {
	Context     context.Context // The context to use for cancellation
	Timeout     time.Duration   // Per-command limit; zero means unlimited
	Interactive bool            // Interactive indicates whether the command may prompt the user
}

func NewExecutor(ctx context.Context) *Executor {
	return &Executor{Context: ctx}
}

// WithTimeout returns a copy of the executor that enforces the given limit.
func (e *Executor) WithTimeout(d time.Duration) *Executor {
	clone := *e
	clone.Timeout = d
	return &clone
}

// Run executes the given command to completion.
// A cancelled context or an expired timeout kills the command's entire
// process group; a timeout surfaces as ErrBuildTimeout.
func (e *Executor) Run(cmd *exec.Cmd) error {
	// --- Phase 0: wire up stdio ---
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	// --- Phase 1: derive the execution context ---
	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	timedOut := false
	if e.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	// --- Phase 2: build the final command ---
	finalCmd := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	finalCmd.Dir = cmd.Dir

	// preserve or inherit the environment
	if len(cmd.Env) > 0 {
		finalCmd.Env = cmd.Env
	} else {
		finalCmd.Env = os.Environ()
	}

	// carry over stdio
	finalCmd.Stdin = cmd.Stdin
	finalCmd.Stdout = cmd.Stdout
	finalCmd.Stderr = cmd.Stderr

	// --- Phase 3: isolate process group for context-based cleanup ---
	if !e.Interactive {
		finalCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	// --- Phase 4: start and watch for cancel ---
	if err := finalCmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	if !e.Interactive {
		pgid := finalCmd.Process.Pid

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					timedOut = true
				}
				syscall.Kill(-pgid, syscall.SIGKILL)
			case <-done:
			}
		}()
	}

	// --- Phase 5: wait and return ---
	if waitErr := finalCmd.Wait(); waitErr != nil {
		if timedOut || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrBuildTimeout, e.Timeout)
		}
		if e.Context != nil && e.Context.Err() != nil {
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("command aborted: %v", e.Context.Err())
		}
		return waitErr
	}
	return nil
}
