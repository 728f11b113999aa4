package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/nbuild/internal/cache"
	"github.com/Norgate-AV/nbuild/internal/codes"
	"github.com/Norgate-AV/nbuild/internal/compiler"
	"github.com/Norgate-AV/nbuild/internal/compiler/compilertest"
	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/deps"
	"github.com/Norgate-AV/nbuild/internal/linker"
	"github.com/Norgate-AV/nbuild/internal/logging"
)

// toolchain simulates cc, cmake, ninja and ld
type toolchain struct {
	failSources map[string]bool
	failDeps    map[string]bool
	onCompile   func(ctx context.Context)
}

func (tc *toolchain) handle(ctx context.Context, c compiler.Command) (compiler.Result, error) {
	switch c.Path {
	case "cc":
		if tc.onCompile != nil {
			tc.onCompile(ctx)
			if ctx.Err() != nil {
				return compiler.Result{ExitCode: -1}, ctx.Err()
			}
		}

		source := compilertest.ArgAfter(c.Args, "-c")
		if tc.failSources[filepath.Base(source)] {
			return compilertest.Fail(c, 1, filepath.Base(source)+":3:1: error: unknown type name")
		}

		return compiler.Result{}, compilertest.Touch(compilertest.ArgAfter(c.Args, "-o"), "obj")

	case "cmake":
		return compiler.Result{}, nil

	case "ninja":
		buildDir := compilertest.ArgAfter(c.Args, "-C")
		name := filepath.Base(buildDir)
		if tc.failDeps[name] {
			return compilertest.Fail(c, 1, "ninja: build stopped: subcommand failed")
		}

		return compiler.Result{}, compilertest.Touch(filepath.Join(buildDir, "lib"+name+".a"), "archive")

	case "ld":
		return compiler.Result{}, compilertest.Touch(compilertest.ArgAfter(c.Args, "-o"), "binary")
	}

	return compilertest.Fail(c, 127, "unknown tool")
}

type fixture struct {
	root   string
	cfg    *config.Config
	tc     *toolchain
	runner *compilertest.Runner
	diag   *bytes.Buffer
}

func newFixture(t *testing.T, sources ...string) *fixture {
	t.Helper()

	root := t.TempDir()
	out := filepath.Join(root, "out")

	cfg := &config.Config{
		Root:       root,
		OutputDir:  out,
		OutputName: "libruntime.so",
		MapName:    "libruntime.map",
		CacheDir:   filepath.Join(out, "Cache"),
		Jobs:       2,
		Compiler:   config.CompilerConfig{Path: "cc"},
		Configure: config.ConfigureConfig{
			ToolConfig:    config.ToolConfig{Path: "cmake", Args: config.DefaultConfigureArgs},
			OptionPrefix:  "-D",
			IncludeOption: "CMAKE_INCLUDE_PATH",
		},
		BuildTool: config.ToolConfig{Path: "ninja", Args: config.DefaultBuildToolArgs},
		Link:      config.LinkConfig{Path: "ld", Flags: []string{"-shared"}},
	}

	for _, name := range sources {
		path := filepath.Join(root, "src", name)
		require.NoError(t, compilertest.Touch(path, "// "+name))
		cfg.Sources = append(cfg.Sources, path)
	}

	tc := &toolchain{failSources: map[string]bool{}, failDeps: map[string]bool{}}

	return &fixture{
		root:   root,
		cfg:    cfg,
		tc:     tc,
		runner: compilertest.NewRunner(tc.handle),
		diag:   &bytes.Buffer{},
	}
}

func (f *fixture) addDependency(t *testing.T, name string, requires ...string) {
	t.Helper()

	d := config.Dependency{
		Name:      name,
		Artifact:  filepath.Join(f.root, "Libs", "lib"+name+".a"),
		SourceDir: filepath.Join(f.root, "Dependencies", name),
		BuildDir:  filepath.Join(f.cfg.CacheDir, name),
		Target:    "lib" + name + ".a",
		Requires:  requires,
	}
	require.NoError(t, os.MkdirAll(d.SourceDir, 0o755))

	f.cfg.Dependencies = append(f.cfg.Dependencies, d)
	f.cfg.Link.StaticLibs = append(f.cfg.Link.StaticLibs, d.Artifact)
}

func (f *fixture) run(ctx context.Context, flags Flags, packager Packager) *Report {
	f.runner = compilertest.NewRunner(f.tc.handle)

	return New(f.cfg, Options{
		Runner:      f.runner,
		Packager:    packager,
		Logger:      logging.Discard(),
		Diagnostics: f.diag,
	}).Run(ctx, flags)
}

func (f *fixture) persisted(t *testing.T) *cache.Mapping {
	t.Helper()

	store, err := cache.Open(f.cfg.CacheDir, logging.Discard())
	require.NoError(t, err)
	defer store.Close()

	return store.Load()
}

type recordingPackager struct {
	binaries []string
	err      error
}

func (p *recordingPackager) Package(ctx context.Context, binary string) error {
	p.binaries = append(p.binaries, binary)
	return p.err
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, "a.cpp", "b.cpp")
	f.addDependency(t, "lzma")
	packager := &recordingPackager{}

	report := f.run(context.Background(), Flags{}, packager)

	require.NoError(t, report.Err)
	assert.Equal(t, codes.Success, report.Status)
	assert.Equal(t, f.cfg.OutputPath(), report.Binary)
	assert.FileExists(t, f.cfg.OutputPath())
	assert.Equal(t, []DependencyReport{{Name: "lzma", Outcome: deps.Built}}, report.Dependencies)
	assert.Equal(t, 2, report.Result.Compiled)
	assert.Equal(t, []string{f.cfg.OutputPath()}, packager.binaries)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, f.persisted(t).Len())
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t, "a.cpp", "b.cpp", "c.cpp")
	f.addDependency(t, "lzma")

	first := f.run(context.Background(), Flags{}, nil)
	require.Equal(t, codes.Success, first.Status)
	before := f.persisted(t).Snapshot()
	require.Len(t, before, 3)

	second := f.run(context.Background(), Flags{}, nil)
	require.Equal(t, codes.Success, second.Status)
	assert.Equal(t, before, f.persisted(t).Snapshot(), "Second run persists an identical mapping")

	assert.Empty(t, f.runner.CallsTo("cc"), "No compile on an unchanged tree")
	assert.Empty(t, f.runner.CallsTo("cmake"), "Existing artifacts are reused")
	assert.Len(t, f.runner.CallsTo("ld"), 1)
	assert.Equal(t, 3, second.Result.Skipped)
	assert.Equal(t, []DependencyReport{{Name: "lzma", Outcome: deps.SkippedExists}}, second.Dependencies)
}

func TestRun_ChangeDetection(t *testing.T) {
	f := newFixture(t, "a.cpp", "b.cpp", "c.cpp")

	require.Equal(t, codes.Success, f.run(context.Background(), Flags{}, nil).Status)

	changed := f.cfg.Sources[2]
	require.NoError(t, os.WriteFile(changed, []byte("// edited"), 0o644))

	report := f.run(context.Background(), Flags{}, nil)
	require.Equal(t, codes.Success, report.Status)

	calls := f.runner.CallsTo("cc")
	require.Len(t, calls, 1)
	assert.Equal(t, changed, compilertest.ArgAfter(calls[0].Args, "-c"))
}

func TestRun_SkipCacheRecompilesEverything(t *testing.T) {
	f := newFixture(t, "a.cpp", "b.cpp")
	require.Equal(t, codes.Success, f.run(context.Background(), Flags{}, nil).Status)

	report := f.run(context.Background(), Flags{SkipCache: true}, nil)

	require.Equal(t, codes.Success, report.Status)
	assert.Len(t, f.runner.CallsTo("cc"), 2)
	assert.Equal(t, 2, f.persisted(t).Len())
}

func TestRun_DependencyFailFast(t *testing.T) {
	f := newFixture(t, "a.cpp")
	f.addDependency(t, "lzma")
	f.addDependency(t, "archive")
	f.tc.failDeps["lzma"] = true

	report := f.run(context.Background(), Flags{}, nil)

	assert.Equal(t, codes.DependencyFailure, report.Status)
	assert.Equal(t, []DependencyReport{{Name: "lzma", Outcome: deps.Failed}}, report.Dependencies)

	for _, c := range f.runner.CallsTo("cmake") {
		assert.NotContains(t, c.Args, filepath.Join(f.root, "Dependencies", "archive"))
	}

	assert.Len(t, f.runner.CallsTo("ninja"), 1)
	assert.Empty(t, f.runner.CallsTo("cc"), "No compile after a dependency failure")
	assert.Empty(t, f.runner.CallsTo("ld"))
	assert.Contains(t, f.diag.String(), "subcommand failed")

	var buildErr *deps.BuildError
	assert.ErrorAs(t, report.Err, &buildErr)
}

func TestRun_DependenciesBuiltInPlanOrder(t *testing.T) {
	f := newFixture(t, "a.cpp")
	f.addDependency(t, "archive", "lzma")
	f.addDependency(t, "lzma")

	report := f.run(context.Background(), Flags{}, nil)
	require.Equal(t, codes.Success, report.Status)

	var order []string
	for _, c := range f.runner.CallsTo("ninja") {
		order = append(order, filepath.Base(compilertest.ArgAfter(c.Args, "-C")))
	}

	assert.Equal(t, []string{"lzma", "archive"}, order)
}

func TestRun_CycleFailsBeforeAnySubprocess(t *testing.T) {
	f := newFixture(t, "a.cpp")
	f.addDependency(t, "a", "b")
	f.addDependency(t, "b", "a")

	report := f.run(context.Background(), Flags{}, nil)

	assert.Equal(t, codes.DependencyFailure, report.Status)
	assert.Empty(t, f.runner.Calls())

	var cycleErr *deps.CycleError
	assert.ErrorAs(t, report.Err, &cycleErr)
}

func TestRun_SkipDeps(t *testing.T) {
	f := newFixture(t, "a.cpp")
	f.addDependency(t, "a", "b")
	f.addDependency(t, "b", "a")
	f.cfg.Link.StaticLibs = nil

	report := f.run(context.Background(), Flags{SkipDeps: true}, nil)

	assert.Equal(t, codes.Success, report.Status)
	assert.Empty(t, f.runner.CallsTo("cmake"))
	assert.Empty(t, report.Dependencies)
}

func TestRun_CompileFailureAggregationAndNoPartialFingerprint(t *testing.T) {
	f := newFixture(t, "a.cpp", "b.cpp", "c.cpp")
	f.tc.failSources["a.cpp"] = true
	f.tc.failSources["c.cpp"] = true

	report := f.run(context.Background(), Flags{}, nil)

	assert.Equal(t, codes.CompileFailure, report.Status)
	assert.Len(t, f.runner.CallsTo("cc"), 3, "Every unit is attempted")
	assert.Empty(t, f.runner.CallsTo("ld"), "No link after compile failures")
	require.Len(t, report.Result.Failures, 2)
	assert.Contains(t, f.diag.String(), "a.cpp:3:1")
	assert.Contains(t, f.diag.String(), "c.cpp:3:1")
	assert.Contains(t, report.Err.Error(), "2 of 3")

	persisted := f.persisted(t)
	assert.Equal(t, 1, persisted.Len())
	_, ok := persisted.Get(f.cfg.Sources[1])
	assert.True(t, ok, "Successful unit is persisted despite sibling failures")

	// The fixed units are the only ones compiled next time
	f.tc.failSources = map[string]bool{}
	next := f.run(context.Background(), Flags{}, nil)
	require.Equal(t, codes.Success, next.Status)
	assert.Len(t, f.runner.CallsTo("cc"), 2)
}

func TestRun_StaticLibOrderReachesLinker(t *testing.T) {
	f := newFixture(t, "a.cpp")
	f.addDependency(t, "zlib")
	f.addDependency(t, "lzma")
	f.addDependency(t, "archive", "lzma", "zlib")

	// Link order differs from dependency order and must be kept verbatim
	libs := []string{
		filepath.Join(f.root, "Libs", "libarchive.a"),
		filepath.Join(f.root, "Libs", "liblzma.a"),
		filepath.Join(f.root, "Libs", "libzlib.a"),
	}
	f.cfg.Link.StaticLibs = slices.Clone(libs)

	report := f.run(context.Background(), Flags{}, nil)
	require.Equal(t, codes.Success, report.Status)

	link := f.runner.CallsTo("ld")
	require.Len(t, link, 1)

	var got []string
	for _, arg := range link[0].Args {
		if strings.HasSuffix(arg, ".a") {
			got = append(got, arg)
		}
	}

	assert.Equal(t, libs, got)
}

func TestRun_MissingSourceExcluded(t *testing.T) {
	f := newFixture(t, "a.cpp", "b.cpp")
	require.NoError(t, os.Remove(f.cfg.Sources[0]))

	report := f.run(context.Background(), Flags{}, nil)

	assert.Equal(t, codes.Success, report.Status)
	assert.Equal(t, []string{f.cfg.Sources[0]}, report.Missing)
	assert.Len(t, f.runner.CallsTo("cc"), 1)
}

func TestRun_NoSourcesLeftIsLinkFailure(t *testing.T) {
	f := newFixture(t, "a.cpp")
	require.NoError(t, os.Remove(f.cfg.Sources[0]))

	report := f.run(context.Background(), Flags{}, nil)

	assert.Equal(t, codes.LinkFailure, report.Status)
	assert.ErrorIs(t, report.Err, linker.ErrPrecondition)
	assert.Empty(t, f.runner.CallsTo("ld"))
}

func TestRun_LinkFailure(t *testing.T) {
	f := newFixture(t, "a.cpp")
	f.runner = nil

	tc := f.tc
	runner := compilertest.NewRunner(func(ctx context.Context, c compiler.Command) (compiler.Result, error) {
		if c.Path == "ld" {
			return compilertest.Fail(c, 1, "ld: symbol(s) not found")
		}

		return tc.handle(ctx, c)
	})

	report := New(f.cfg, Options{Runner: runner, Logger: logging.Discard(), Diagnostics: f.diag}).Run(context.Background(), Flags{})

	assert.Equal(t, codes.LinkFailure, report.Status)
	assert.Contains(t, f.diag.String(), "symbol(s) not found")

	var linkErr *linker.LinkError
	assert.ErrorAs(t, report.Err, &linkErr)
	assert.Empty(t, report.Binary)
}

func TestRun_Packaging(t *testing.T) {
	t.Run("skipped by flag", func(t *testing.T) {
		f := newFixture(t, "a.cpp")
		packager := &recordingPackager{}

		report := f.run(context.Background(), Flags{SkipPackaging: true}, packager)

		assert.Equal(t, codes.Success, report.Status)
		assert.Empty(t, packager.binaries)
	})

	t.Run("failure", func(t *testing.T) {
		f := newFixture(t, "a.cpp")
		packager := &recordingPackager{err: errors.New("archive too large")}

		report := f.run(context.Background(), Flags{}, packager)

		assert.Equal(t, codes.PackageFailure, report.Status)
		assert.ErrorContains(t, report.Err, "archive too large")
	})
}

func TestRun_Interrupted(t *testing.T) {
	f := newFixture(t, "a.cpp", "b.cpp", "c.cpp")
	f.cfg.Jobs = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.tc.onCompile = func(ctx context.Context) {
		cancel()
		<-ctx.Done()
	}

	report := f.run(ctx, Flags{}, nil)

	assert.Equal(t, codes.Interrupted, report.Status)
	assert.Len(t, f.runner.CallsTo("cc"), 1)
	assert.Empty(t, f.runner.CallsTo("ld"))
	assert.Equal(t, 0, f.persisted(t).Len(), "Killed jobs are not recorded")
}

func TestRun_InterruptedAfterFailurePrintsDiagnostics(t *testing.T) {
	f := newFixture(t, "a.cpp", "b.cpp", "c.cpp")
	f.cfg.Jobs = 1
	f.tc.failSources["a.cpp"] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var compiles atomic.Int32
	f.tc.onCompile = func(ctx context.Context) {
		if compiles.Add(1) == 2 {
			cancel()
			<-ctx.Done()
		}
	}

	report := f.run(ctx, Flags{}, nil)

	assert.Equal(t, codes.Interrupted, report.Status)
	require.Len(t, report.Result.Failures, 1)
	assert.Contains(t, f.diag.String(), "a.cpp:3:1: error: unknown type name")
	assert.Empty(t, f.runner.CallsTo("ld"))
}

func TestRun_CorruptCacheIsRecovered(t *testing.T) {
	f := newFixture(t, "a.cpp")
	require.NoError(t, compilertest.Touch(filepath.Join(f.cfg.CacheDir, cache.DatabaseName), "corrupt"))

	report := f.run(context.Background(), Flags{}, nil)

	assert.Equal(t, codes.Success, report.Status)
	assert.Equal(t, 1, f.persisted(t).Len())
}

func TestCommandPackager(t *testing.T) {
	f := newFixture(t, "a.cpp")
	assert.Nil(t, NewCommandPackager(f.cfg, f.runner))

	f.cfg.Package = config.ToolConfig{Path: "zip", Args: []string{"-j", "out/release.zip", "{binary}"}}
	runner := compilertest.NewRunner(nil)

	p := NewCommandPackager(f.cfg, runner)
	require.NotNil(t, p)
	require.NoError(t, p.Package(context.Background(), "/out/libruntime.so"))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"-j", "out/release.zip", "/out/libruntime.so"}, calls[0].Args)

	failing := NewCommandPackager(f.cfg, compilertest.NewRunner(func(ctx context.Context, c compiler.Command) (compiler.Result, error) {
		return compilertest.Fail(c, 12, "zip error: nothing to do")
	}))
	err := failing.Package(context.Background(), "/out/libruntime.so")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to do")
}
