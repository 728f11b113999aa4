// Package compilertest provides a scripted compiler.Runner for tests.
package compilertest

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/Norgate-AV/nbuild/internal/compiler"
)

// HandlerFunc decides the outcome of one invocation
type HandlerFunc func(ctx context.Context, c compiler.Command) (compiler.Result, error)

// Runner records every invocation and delegates to Handler. A nil Handler
// succeeds without side effects.
type Runner struct {
	Handler HandlerFunc

	mu    sync.Mutex
	calls []compiler.Command
}

// NewRunner creates a runner using handler
func NewRunner(handler HandlerFunc) *Runner {
	return &Runner{Handler: handler}
}

func (r *Runner) Run(ctx context.Context, c compiler.Command) (compiler.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()

	if r.Handler == nil {
		return compiler.Result{}, nil
	}

	return r.Handler(ctx, c)
}

// Calls returns a copy of the recorded invocations in call order
func (r *Runner) Calls() []compiler.Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.calls)
}

// CallsTo returns the recorded invocations of the tool at path
func (r *Runner) CallsTo(path string) []compiler.Command {
	var out []compiler.Command
	for _, c := range r.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}

	return out
}

// Fail returns a non-zero exit result with output
func Fail(c compiler.Command, code int, output string) (compiler.Result, error) {
	return compiler.Result{ExitCode: code, Output: output}, &compiler.ExitError{Path: c.Path, Code: code}
}

// ArgAfter returns the argument following flag, or "" when absent
func ArgAfter(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}

	return args[i+1]
}

// Touch creates path and its parent directories
func Touch(path string, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(content), 0o644)
}
