// Package linker assembles compiled objects and static libraries into the
// final shared binary.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Norgate-AV/nbuild/internal/compiler"
	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/logging"
	"github.com/Norgate-AV/nbuild/internal/utils"
)

// ErrPrecondition reports a link request that cannot be satisfied
var ErrPrecondition = errors.New("link precondition failed")

// LinkError reports a failed link invocation or a link that did not produce
// its outputs
type LinkError struct {
	ExitCode int
	Output   string
	Err      error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link failed: %v", e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// ExternalLibs are libraries resolved by the linker rather than by path
type ExternalLibs struct {
	Frameworks []string
	System     []string

	// Optional libraries are passed only when present on disk
	Optional []string
}

// Request describes one link
type Request struct {
	Objects      []string
	StaticLibs   []string
	ExternalLibs ExternalLibs
	Output       string
	MapFile      string
}

// NewRequest builds the link request for objects from the configuration
func NewRequest(cfg *config.Config, objects []string) Request {
	return Request{
		Objects:    objects,
		StaticLibs: cfg.Link.StaticLibs,
		ExternalLibs: ExternalLibs{
			Frameworks: cfg.Link.Frameworks,
			System:     cfg.Link.SystemLibs,
			Optional:   cfg.Link.OptionalLibs,
		},
		Output:  cfg.OutputPath(),
		MapFile: cfg.MapPath(),
	}
}

// Linker runs the link step
type Linker struct {
	path    string
	flags   []string
	mapFlag string
	dir     string
	env     []string
	timeout time.Duration
	runner  compiler.Runner
	log     *slog.Logger
}

// New creates a linker from the configuration
func New(cfg *config.Config, runner compiler.Runner, log *slog.Logger) *Linker {
	if log == nil {
		log = slog.Default()
	}

	return &Linker{
		path:    cfg.Link.Path,
		flags:   cfg.Link.Flags,
		mapFlag: cfg.Link.MapFlag,
		dir:     cfg.Root,
		env:     cfg.Environment(),
		timeout: cfg.Link.Timeout,
		runner:  runner,
		log:     log,
	}
}

// Args builds the linker argument vector. Static libraries keep the order
// of the request since archive order is significant to the linker.
func (l *Linker) Args(req Request) []string {
	var args []string
	args = append(args, l.flags...)

	if l.mapFlag != "" && req.MapFile != "" {
		args = append(args, utils.ExpandArgs([]string{l.mapFlag}, map[string]string{
			utils.MapPlaceholder: req.MapFile,
		})...)
	}

	args = append(args, req.Objects...)
	args = append(args, req.StaticLibs...)

	for _, fw := range req.ExternalLibs.Frameworks {
		args = append(args, "-framework", fw)
	}

	for _, lib := range req.ExternalLibs.System {
		args = append(args, "-l"+lib)
	}

	for _, lib := range req.ExternalLibs.Optional {
		if fileExists(lib) {
			args = append(args, lib)
		} else {
			l.log.Debug("Optional library not found, skipping", slog.String("library", lib))
		}
	}

	args = append(args, "-o", req.Output)

	return args
}

// Link produces req.Output from the objects and libraries of req
func (l *Linker) Link(ctx context.Context, req Request) error {
	if len(req.Objects) == 0 {
		return fmt.Errorf("%w: no objects to link", ErrPrecondition)
	}

	for _, obj := range req.Objects {
		if !fileExists(obj) {
			return fmt.Errorf("%w: missing object %s", ErrPrecondition, obj)
		}
	}

	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return &LinkError{ExitCode: -1, Err: err}
	}

	expectMap := l.mapFlag != "" && req.MapFile != ""

	// Outputs of a previous link must not satisfy the checks below
	for _, path := range []string{req.Output, req.MapFile} {
		if path == "" {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &LinkError{ExitCode: -1, Err: err}
		}
	}

	cmd := compiler.Command{
		Path:    l.path,
		Args:    l.Args(req),
		Dir:     l.dir,
		Env:     l.env,
		Timeout: l.timeout,
	}

	l.log.Info("Linking", slog.String("output", req.Output), slog.Int("objects", len(req.Objects)))
	l.log.Debug("Link command", logging.Command(cmd.String()))

	res, err := l.runner.Run(ctx, cmd)
	if err != nil {
		return &LinkError{ExitCode: res.ExitCode, Output: res.Output, Err: err}
	}

	if !fileExists(req.Output) {
		return &LinkError{Output: res.Output, Err: fmt.Errorf("linker produced no %s", req.Output)}
	}

	if expectMap && !fileExists(req.MapFile) {
		return &LinkError{Output: res.Output, Err: fmt.Errorf("linker produced no map file %s", req.MapFile)}
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
