package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Norgate-AV/nbuild/internal/cache"
	"github.com/Norgate-AV/nbuild/internal/compiler"
	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/logging"
	"github.com/Norgate-AV/nbuild/internal/utils"
)

// ErrUnsafeBuildDir reports a build directory that cannot be wiped safely
var ErrUnsafeBuildDir = errors.New("unsafe build directory")

// Outcome is the result of resolving one dependency
type Outcome int

const (
	SkippedExists Outcome = iota
	SkippedNoSource
	Built
	Failed
)

func (o Outcome) String() string {
	switch o {
	case SkippedExists:
		return "exists"
	case SkippedNoSource:
		return "no_source"
	case Built:
		return "built"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Build phases reported by BuildError
const (
	PhasePrepare   = "prepare"
	PhaseConfigure = "configure"
	PhaseBuild     = "build"
	PhaseArtifact  = "artifact"
	PhaseInstall   = "install"
	PhaseHeaders   = "headers"
)

// BuildError reports a failed dependency build
type BuildError struct {
	Dependency string
	Phase      string
	Output     string
	Err        error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("dependency %s: %s failed: %v", e.Dependency, e.Phase, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Resolver makes the artifact of a dependency available, building it from
// source when it is missing.
type Resolver struct {
	cfg     *config.Config
	runner  compiler.Runner
	builder *compiler.CommandBuilder
	log     *slog.Logger
}

// NewResolver creates a resolver for the dependencies of cfg
func NewResolver(cfg *config.Config, runner compiler.Runner, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}

	return &Resolver{
		cfg:     cfg,
		runner:  runner,
		builder: compiler.NewCommandBuilder(cfg),
		log:     log,
	}
}

// Resolve reuses the artifact of dep when present, otherwise rebuilds it in
// a fresh build directory and copies it into place.
func (r *Resolver) Resolve(ctx context.Context, dep config.Dependency) (Outcome, error) {
	log := r.log.With(logging.Dependency(dep.Name))

	if fileExists(dep.Artifact) {
		log.Debug("Artifact present, skipping build", slog.String("artifact", dep.Artifact))

		if err := r.publishHeaders(dep); err != nil {
			log.Warn("Failed to publish headers", logging.Error(err))
		}

		return SkippedExists, nil
	}

	if !dirExists(dep.SourceDir) {
		log.Warn("Dependency source not found, skipping", slog.String("source_dir", dep.SourceDir))
		return SkippedNoSource, nil
	}

	log.Info("Building dependency")

	if err := r.checkBuildDir(dep); err != nil {
		return Failed, &BuildError{Dependency: dep.Name, Phase: PhasePrepare, Err: err}
	}

	if err := os.RemoveAll(dep.BuildDir); err != nil {
		return Failed, &BuildError{Dependency: dep.Name, Phase: PhasePrepare, Err: err}
	}

	if err := os.MkdirAll(dep.BuildDir, 0o755); err != nil {
		return Failed, &BuildError{Dependency: dep.Name, Phase: PhasePrepare, Err: err}
	}

	configure := r.builder.ConfigureCommand(dep, r.options(dep))
	log.Debug("Configuring", logging.Command(configure.String()))

	if res, err := r.runner.Run(ctx, configure); err != nil {
		return Failed, &BuildError{Dependency: dep.Name, Phase: PhaseConfigure, Output: res.Output, Err: err}
	}

	build := r.builder.BuildToolCommand(dep)
	log.Debug("Building", logging.Command(build.String()))

	if res, err := r.runner.Run(ctx, build); err != nil {
		return Failed, &BuildError{Dependency: dep.Name, Phase: PhaseBuild, Output: res.Output, Err: err}
	}

	built := filepath.Join(dep.BuildDir, dep.Target)
	if !fileExists(built) {
		return Failed, &BuildError{
			Dependency: dep.Name,
			Phase:      PhaseArtifact,
			Err:        fmt.Errorf("build produced no %s", built),
		}
	}

	if err := cache.CopyFile(built, dep.Artifact); err != nil {
		return Failed, &BuildError{Dependency: dep.Name, Phase: PhaseInstall, Err: err}
	}

	if err := r.publishHeaders(dep); err != nil {
		return Failed, &BuildError{Dependency: dep.Name, Phase: PhaseHeaders, Err: err}
	}

	log.Info("Dependency built", slog.String("artifact", dep.Artifact))

	return Built, nil
}

// options returns the configure options of dep followed by the include
// option carrying the exported header directories of its prerequisites.
// checkBuildDir refuses build directories whose removal would take the
// project or the dependency source with them
func (r *Resolver) checkBuildDir(dep config.Dependency) error {
	if dep.BuildDir == "" {
		return fmt.Errorf("%w: build directory not set", ErrUnsafeBuildDir)
	}

	for _, protected := range []string{r.cfg.Root, dep.SourceDir} {
		if protected != "" && utils.IsWithin(dep.BuildDir, protected) {
			return fmt.Errorf("%w: %s contains %s", ErrUnsafeBuildDir, dep.BuildDir, protected)
		}
	}

	return nil
}

func (r *Resolver) options(dep config.Dependency) []config.Option {
	options := append([]config.Option(nil), dep.Options...)

	var includes []string
	for _, prereq := range Prerequisites(r.cfg.Dependencies, dep) {
		for _, dir := range prereq.Exports {
			includes = append(includes, filepath.Join(prereq.SourceDir, dir))
		}
	}

	if len(includes) > 0 && r.cfg.Configure.IncludeOption != "" {
		options = append(options, config.Option{
			Key:   r.cfg.Configure.IncludeOption,
			Value: strings.Join(includes, ";"),
		})
	}

	return options
}

// publishHeaders copies header directories whose destination does not
// exist yet. Existing destinations are never overwritten.
func (r *Resolver) publishHeaders(dep config.Dependency) error {
	var errs []error

	for _, h := range dep.Headers {
		if _, err := os.Stat(h.Dest); err == nil {
			continue
		}

		base := dep.SourceDir
		if h.From == "build" {
			base = dep.BuildDir
		}

		src := filepath.Join(base, h.Dir)
		if !dirExists(src) {
			errs = append(errs, fmt.Errorf("header directory %s not found", src))
			continue
		}

		if err := cache.CopyTree(src, h.Dest); err != nil {
			errs = append(errs, err)
			continue
		}

		r.log.Debug("Published headers", logging.Dependency(dep.Name), slog.String("dest", h.Dest))
	}

	return errors.Join(errs...)
}

// State describes what Resolve would do with a dependency right now
type State string

const (
	StateExists   State = "exists"
	StateNoSource State = "no source"
	StatePending  State = "pending"
)

// Inspect reports the state of dep without running anything
func Inspect(dep config.Dependency) State {
	if fileExists(dep.Artifact) {
		return StateExists
	}

	if !dirExists(dep.SourceDir) {
		return StateNoSource
	}

	return StatePending
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
