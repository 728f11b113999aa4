// Package compiler runs the external toolchain: compile, configure, build
// and link invocations all go through a Runner.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command is one external tool invocation
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// Timeout bounds the invocation when positive
	Timeout time.Duration
}

// String renders the command line for logs
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}

	return c.Path + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a finished invocation
type Result struct {
	ExitCode int
	Output   string
}

// Runner executes external commands
type Runner interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// ExitError reports a command that ran and exited non-zero
type ExitError struct {
	Path string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Path, e.Code)
}

// Commander interface for testing
type Commander interface {
	CombinedOutput() ([]byte, error)
}

// ExecRunner runs commands as child processes. Cancelling the context kills
// the child.
type ExecRunner struct {
	execCommand func(ctx context.Context, c Command) Commander
}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		execCommand: func(ctx context.Context, c Command) Commander {
			cmd := exec.CommandContext(ctx, c.Path, c.Args...)
			cmd.Dir = c.Dir
			if len(c.Env) > 0 {
				cmd.Env = c.Env
			}

			return cmd
		},
	}
}

// Run executes c and waits for it to exit. A non-zero exit yields an
// *ExitError alongside the captured output.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	out, err := r.execCommand(ctx, c).CombinedOutput()
	res := Result{Output: string(out)}

	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s did not finish: %w", c.Path, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Path: c.Path, Code: res.ExitCode}
	}

	res.ExitCode = -1
	return res, fmt.Errorf("failed to run %s: %w", c.Path, err)
}
