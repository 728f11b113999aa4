// Package scheduler compiles translation units in parallel, skipping units
// whose fingerprint shows they are unchanged.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/nbuild/internal/cache"
	"github.com/Norgate-AV/nbuild/internal/compiler"
	"github.com/Norgate-AV/nbuild/internal/logging"
	"github.com/Norgate-AV/nbuild/internal/metrics"
)

// ErrNoObject reports a compile that exited zero without producing its object
var ErrNoObject = errors.New("compiler produced no object file")

// Unit is one translation unit and the object it compiles to
type Unit struct {
	Source string
	Object string
}

// Failure describes a unit that did not compile
type Failure struct {
	Unit     Unit
	ExitCode int
	Output   string
	Err      error
}

// BuildResult aggregates the outcome of one scheduling pass
type BuildResult struct {
	// Objects of every skipped or compiled unit, in unit order
	Objects []string

	// Failures in unit order
	Failures []Failure

	Compiled int
	Skipped  int

	// Interrupted is set when the context was cancelled before every
	// queued unit settled
	Interrupted bool
}

// Failed reports whether any unit failed to compile
func (r *BuildResult) Failed() bool {
	return len(r.Failures) > 0
}

type state int

const (
	stateSkipped state = iota
	stateQueued
	stateSucceeded
	stateFailed
	stateCancelled
)

type outcome struct {
	state   state
	failure Failure
}

// Options configures a Scheduler
type Options struct {
	// Workers bounds concurrent compile jobs (0 = number of CPUs)
	Workers int

	Recorder metrics.Recorder
	Logger   *slog.Logger
}

// Scheduler dispatches compile jobs to a bounded worker pool
type Scheduler struct {
	runner   compiler.Runner
	builder  *compiler.CommandBuilder
	workers  int
	recorder metrics.Recorder
	log      *slog.Logger
}

// New creates a scheduler
func New(builder *compiler.CommandBuilder, runner compiler.Runner, opts Options) *Scheduler {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Scheduler{
		runner:   runner,
		builder:  builder,
		workers:  workers,
		recorder: recorder,
		log:      log,
	}
}

// Workers returns the size of the worker pool
func (s *Scheduler) Workers() int {
	return s.workers
}

// Schedule compiles every stale unit and waits for all dispatched jobs to
// finish. A failing unit never stops its siblings. Only units that compiled
// successfully are recorded in m; queued units lose their prior entry.
func (s *Scheduler) Schedule(ctx context.Context, units []Unit, m *cache.Mapping, cachingEnabled bool) *BuildResult {
	outcomes := make([]outcome, len(units))

	var queued []int
	for i, u := range units {
		if !cache.IsStale(u.Source, m, cachingEnabled) && fileExists(u.Object) {
			outcomes[i].state = stateSkipped
			s.log.Debug("Up to date", logging.Source(u.Source))
			continue
		}

		outcomes[i].state = stateQueued
		queued = append(queued, i)
		m.Delete(u.Source)
	}

	s.recorder.SetWorkers(s.workers)
	s.log.Debug("Scheduling compile jobs",
		slog.Int("queued", len(queued)),
		slog.Int("skipped", len(units)-len(queued)),
		slog.Int("workers", s.workers))

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, i := range queued {
		if ctx.Err() != nil {
			outcomes[i].state = stateCancelled
			continue
		}

		i := i
		g.Go(func() error {
			outcomes[i] = s.compile(ctx, units[i], m)
			return nil
		})
	}

	_ = g.Wait()

	return s.collect(ctx, units, outcomes)
}

func (s *Scheduler) compile(ctx context.Context, u Unit, m *cache.Mapping) outcome {
	if ctx.Err() != nil {
		return outcome{state: stateCancelled}
	}

	log := s.log.With(logging.Source(u.Source))
	fail := func(res compiler.Result, err error) outcome {
		return outcome{
			state: stateFailed,
			failure: Failure{
				Unit:     u,
				ExitCode: res.ExitCode,
				Output:   res.Output,
				Err:      err,
			},
		}
	}

	if err := os.MkdirAll(filepath.Dir(u.Object), 0o755); err != nil {
		return fail(compiler.Result{ExitCode: -1}, err)
	}

	if err := os.Remove(u.Object); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fail(compiler.Result{ExitCode: -1}, err)
	}

	// Fingerprint the content the compiler is about to read. A save during
	// the compile leaves the unit stale for the next run.
	fp, err := cache.Compute(u.Source)
	if err != nil {
		return fail(compiler.Result{ExitCode: -1}, err)
	}

	cmd := s.builder.CompileCommand(u.Source, u.Object)
	log.Info("Compiling")
	log.Debug("Compile command", logging.Command(cmd.String()))

	start := time.Now()
	res, err := s.runner.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("Compile cancelled")
			return outcome{state: stateCancelled}
		}

		log.Debug("Compile failed", logging.ExitCode(res.ExitCode), logging.Duration(time.Since(start)))
		return fail(res, err)
	}

	if !fileExists(u.Object) {
		return fail(res, fmt.Errorf("%w: %s", ErrNoObject, u.Object))
	}

	m.Set(u.Source, fp)

	log.Debug("Compiled", logging.Object(u.Object), logging.Duration(time.Since(start)))

	return outcome{state: stateSucceeded}
}

func (s *Scheduler) collect(ctx context.Context, units []Unit, outcomes []outcome) *BuildResult {
	result := &BuildResult{}

	for i, o := range outcomes {
		switch o.state {
		case stateSkipped:
			result.Skipped++
			result.Objects = append(result.Objects, units[i].Object)
			s.recorder.IncUnitResult(metrics.UnitSkipped)
		case stateSucceeded:
			result.Compiled++
			result.Objects = append(result.Objects, units[i].Object)
			s.recorder.IncUnitResult(metrics.UnitCompiled)
		case stateFailed:
			result.Failures = append(result.Failures, o.failure)
			s.recorder.IncUnitResult(metrics.UnitFailed)
		case stateCancelled, stateQueued:
			result.Interrupted = true
		}
	}

	if ctx.Err() != nil {
		result.Interrupted = true
	}

	return result
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
