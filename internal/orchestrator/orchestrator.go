// Package orchestrator drives one build: dependencies, parallel compilation,
// fingerprint persistence, link and packaging, each stage gating the next.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Norgate-AV/nbuild/internal/cache"
	"github.com/Norgate-AV/nbuild/internal/codes"
	"github.com/Norgate-AV/nbuild/internal/compiler"
	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/deps"
	"github.com/Norgate-AV/nbuild/internal/linker"
	"github.com/Norgate-AV/nbuild/internal/logging"
	"github.com/Norgate-AV/nbuild/internal/metrics"
	"github.com/Norgate-AV/nbuild/internal/scheduler"
)

// Stage names used in logs and metrics
const (
	StageDependencies = "dependencies"
	StageCompile      = "compile"
	StageLink         = "link"
	StagePackage      = "package"
)

// Flags select the stages of a run
type Flags struct {
	SkipDeps      bool
	SkipCache     bool
	SkipPackaging bool
}

// DependencyReport is the outcome of one dependency
type DependencyReport struct {
	Name    string
	Outcome deps.Outcome
}

// Report summarizes a run
type Report struct {
	RunID        string
	Status       codes.ExitStatus
	Dependencies []DependencyReport
	Result       *scheduler.BuildResult

	// Missing lists configured sources that were not found
	Missing []string

	Binary   string
	Duration time.Duration

	// Err is the error that ended the run, nil on success
	Err error
}

// Options configures an Orchestrator
type Options struct {
	Runner   compiler.Runner
	Packager Packager
	Recorder metrics.Recorder
	Logger   *slog.Logger

	// Diagnostics receives the captured tool output of failures (default stderr)
	Diagnostics io.Writer
}

// Orchestrator runs builds for one configuration
type Orchestrator struct {
	cfg      *config.Config
	runner   compiler.Runner
	packager Packager
	recorder metrics.Recorder
	log      *slog.Logger
	diag     io.Writer
}

// New creates an orchestrator
func New(cfg *config.Config, opts Options) *Orchestrator {
	runner := opts.Runner
	if runner == nil {
		runner = compiler.NewExecRunner()
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	diag := opts.Diagnostics
	if diag == nil {
		diag = os.Stderr
	}

	return &Orchestrator{
		cfg:      cfg,
		runner:   runner,
		packager: opts.Packager,
		recorder: recorder,
		log:      log,
		diag:     diag,
	}
}

// Run executes one build and reports its status. The fingerprint mapping is
// persisted exactly once, after the compile barrier, whatever the outcome of
// the compile stage.
func (o *Orchestrator) Run(ctx context.Context, flags Flags) *Report {
	start := time.Now()
	report := &Report{RunID: logging.NewRunID()}
	log := o.log.With(logging.RunID(report.RunID))

	defer func() {
		report.Duration = time.Since(start)
		o.recorder.ObserveBuildDuration(report.Duration)
		o.recorder.IncBuildOutcome(outcomeLabel(report.Status))
	}()

	store, mapping := o.openStore(log)
	if store != nil {
		defer store.Close()
	}

	if flags.SkipDeps {
		log.Info("Skipping dependency builds")
	} else if status, err := o.resolveDependencies(ctx, log, report); err != nil {
		return o.finish(log, report, status, err)
	}

	units := o.units(log, report)

	stageStart := time.Now()
	s := scheduler.New(compiler.NewCommandBuilder(o.cfg), o.runner, scheduler.Options{
		Workers:  o.cfg.Jobs,
		Recorder: o.recorder,
		Logger:   log.With(logging.Stage(StageCompile)),
	})

	result := s.Schedule(ctx, units, mapping, !flags.SkipCache)
	report.Result = result
	o.recorder.ObserveStageDuration(StageCompile, time.Since(stageStart))

	if store != nil {
		if err := store.Persist(mapping); err != nil {
			log.Warn("Failed to persist fingerprints", logging.Error(err))
		}
	}

	for _, f := range result.Failures {
		log.Error("Compile failed",
			logging.Source(f.Unit.Source),
			logging.ExitCode(f.ExitCode),
			logging.Error(f.Err))
		if f.Output != "" {
			fmt.Fprintln(o.diag, f.Output)
		}
	}

	if result.Interrupted {
		return o.finish(log, report, codes.Interrupted, context.Canceled)
	}

	if result.Failed() {
		return o.finish(log, report, codes.CompileFailure,
			fmt.Errorf("%d of %d units failed to compile", len(result.Failures), len(units)))
	}

	log.Info("Compilation finished",
		slog.Int("compiled", result.Compiled),
		slog.Int("skipped", result.Skipped))

	stageStart = time.Now()
	l := linker.New(o.cfg, o.runner, log.With(logging.Stage(StageLink)))
	err := l.Link(ctx, linker.NewRequest(o.cfg, result.Objects))
	o.recorder.ObserveStageDuration(StageLink, time.Since(stageStart))

	if err != nil {
		if ctx.Err() != nil {
			return o.finish(log, report, codes.Interrupted, ctx.Err())
		}

		var linkErr *linker.LinkError
		if errors.As(err, &linkErr) && linkErr.Output != "" {
			fmt.Fprintln(o.diag, linkErr.Output)
		}

		return o.finish(log, report, codes.LinkFailure, err)
	}

	report.Binary = o.cfg.OutputPath()

	if o.packager != nil && !flags.SkipPackaging {
		stageStart = time.Now()
		err := o.packager.Package(ctx, report.Binary)
		o.recorder.ObserveStageDuration(StagePackage, time.Since(stageStart))

		if err != nil {
			if ctx.Err() != nil {
				return o.finish(log, report, codes.Interrupted, ctx.Err())
			}

			return o.finish(log, report, codes.PackageFailure, err)
		}
	}

	return o.finish(log, report, codes.Success, nil)
}

// openStore never fails the run: without a usable store the build runs
// with an empty mapping and nothing is persisted.
func (o *Orchestrator) openStore(log *slog.Logger) (*cache.Store, *cache.Mapping) {
	store, err := cache.Open(o.cfg.CacheDir, log)
	if err != nil {
		log.Warn("Fingerprint cache unavailable, rebuilding everything", logging.Error(err))
		return nil, cache.NewMapping()
	}

	return store, store.Load()
}

// resolveDependencies resolves every dependency in plan order and stops at
// the first failure.
func (o *Orchestrator) resolveDependencies(ctx context.Context, log *slog.Logger, report *Report) (codes.ExitStatus, error) {
	stageStart := time.Now()
	defer func() {
		o.recorder.ObserveStageDuration(StageDependencies, time.Since(stageStart))
	}()

	plan, err := deps.Plan(o.cfg.Dependencies)
	if err != nil {
		return codes.DependencyFailure, err
	}

	resolver := deps.NewResolver(o.cfg, o.runner, log.With(logging.Stage(StageDependencies)))

	for _, dep := range plan {
		if ctx.Err() != nil {
			return codes.Interrupted, ctx.Err()
		}

		outcome, err := resolver.Resolve(ctx, dep)
		report.Dependencies = append(report.Dependencies, DependencyReport{Name: dep.Name, Outcome: outcome})
		o.recorder.IncDependencyOutcome(dep.Name, outcome.String())

		if outcome != deps.Failed {
			continue
		}

		if ctx.Err() != nil {
			return codes.Interrupted, ctx.Err()
		}

		var buildErr *deps.BuildError
		if errors.As(err, &buildErr) && buildErr.Output != "" {
			fmt.Fprintln(o.diag, buildErr.Output)
		}

		return codes.DependencyFailure, err
	}

	return codes.Success, nil
}

// units enumerates the configured sources, excluding missing files
func (o *Orchestrator) units(log *slog.Logger, report *Report) []scheduler.Unit {
	units := make([]scheduler.Unit, 0, len(o.cfg.Sources))

	for _, source := range o.cfg.Sources {
		info, err := os.Stat(source)
		if err != nil || info.IsDir() {
			log.Warn("Source file not found, skipping", logging.Source(source))
			report.Missing = append(report.Missing, source)
			continue
		}

		units = append(units, scheduler.Unit{
			Source: source,
			Object: o.cfg.ObjectPath(source),
		})
	}

	return units
}

func (o *Orchestrator) finish(log *slog.Logger, report *Report, status codes.ExitStatus, err error) *Report {
	report.Status = status
	report.Err = err

	if err != nil {
		log.Error("Build failed", logging.Status(codes.GetMessage(status)), logging.Error(err))
	} else {
		log.Info("Build succeeded", slog.String("binary", report.Binary))
	}

	return report
}

func outcomeLabel(status codes.ExitStatus) string {
	switch status {
	case codes.Success:
		return "success"
	case codes.Interrupted:
		return "canceled"
	default:
		return "failed"
	}
}
