package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Norgate-AV/nbuild/internal/utils"
)

// Default configuration values
const (
	DefaultCompilerPath  = "clang++"
	DefaultConfigurePath = "cmake"
	DefaultBuildToolPath = "ninja"
	DefaultOutputDir     = "out"
	DefaultOutputName    = "libruntime.so"
	DefaultMapName       = "libruntime.map"
	DefaultOptionPrefix  = "-D"
	DefaultIncludeOption = "CMAKE_INCLUDE_PATH"
	DefaultLogFormat     = "text"
	DefaultVerbose       = false

	// CacheDirName is the cache directory created under the output directory
	// when cache_dir is not set.
	CacheDirName = "Cache"
)

var (
	DefaultConfigureArgs = []string{"-S", utils.SourceDirPlaceholder, "-B", utils.BuildDirPlaceholder, "-G", "Ninja"}
	DefaultBuildToolArgs = []string{"-C", utils.BuildDirPlaceholder}
)

// Holds the configuration options for nbuild
type Config struct {
	// Directory every relative path is resolved against
	Root string `mapstructure:"root"`

	// Final binary and map file location
	OutputDir  string `mapstructure:"output_dir"`
	OutputName string `mapstructure:"output_name"`
	MapName    string `mapstructure:"map_name"`

	// Object files, dependency build trees and the fingerprint database
	CacheDir string `mapstructure:"cache_dir"`

	// Number of parallel compile jobs (0 = number of CPUs)
	Jobs int `mapstructure:"jobs"`

	// Extra environment ("KEY=VALUE") passed to every external invocation
	Env []string `mapstructure:"env"`

	// Translation units, in declaration order
	Sources []string `mapstructure:"sources"`

	Compiler     CompilerConfig  `mapstructure:"compiler"`
	Configure    ConfigureConfig `mapstructure:"configure"`
	BuildTool    ToolConfig      `mapstructure:"build_tool"`
	Dependencies []Dependency    `mapstructure:"dependencies"`
	Link         LinkConfig      `mapstructure:"link"`
	Package      ToolConfig      `mapstructure:"package"`
	Clean        CleanConfig     `mapstructure:"clean"`

	// Enable verbose output
	Verbose bool `mapstructure:"verbose"`

	// Log handler format: text or json
	LogFormat string `mapstructure:"log_format"`

	// Prometheus textfile written at the end of a run
	MetricsFile string `mapstructure:"metrics_file"`
}

type CompilerConfig struct {
	Path        string        `mapstructure:"path"`
	Flags       []string      `mapstructure:"flags"`
	Defines     []string      `mapstructure:"defines"`
	IncludeDirs []string      `mapstructure:"include_dirs"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ToolConfig struct {
	Path    string        `mapstructure:"path"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ConfigureConfig describes the configure phase of a dependency build.
// Dependency options are rendered as OptionPrefix + key + "=" + value.
type ConfigureConfig struct {
	ToolConfig    `mapstructure:",squash"`
	OptionPrefix  string `mapstructure:"option_prefix"`
	IncludeOption string `mapstructure:"include_option"`
}

type LinkConfig struct {
	Path         string        `mapstructure:"path"`
	Flags        []string      `mapstructure:"flags"`
	MapFlag      string        `mapstructure:"map_flag"`
	StaticLibs   []string      `mapstructure:"static_libs"`
	Frameworks   []string      `mapstructure:"frameworks"`
	SystemLibs   []string      `mapstructure:"system_libs"`
	OptionalLibs []string      `mapstructure:"optional_libs"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type CleanConfig struct {
	Dirs     []string `mapstructure:"dirs"`
	DeepDirs []string `mapstructure:"deep_dirs"`
}

// Option is one opaque key/value pair handed to the configure phase.
type Option struct {
	Key   string `mapstructure:"key"`
	Value string `mapstructure:"value"`
}

// HeaderCopy publishes a header directory of a dependency.
// From selects the tree Dir is relative to: "source" or "build".
type HeaderCopy struct {
	From string `mapstructure:"from"`
	Dir  string `mapstructure:"dir"`
	Dest string `mapstructure:"dest"`
}

// Dependency is one external static library built with the configure and
// build tools.
type Dependency struct {
	Name      string   `mapstructure:"name"`
	Artifact  string   `mapstructure:"artifact"`
	SourceDir string   `mapstructure:"source_dir"`
	BuildDir  string   `mapstructure:"build_dir"`
	Target    string   `mapstructure:"target"`
	Options   []Option `mapstructure:"options"`
	Requires  []string `mapstructure:"requires"`

	// Header directories (relative to SourceDir) handed to dependents
	Exports []string     `mapstructure:"exports"`
	Headers []HeaderCopy `mapstructure:"headers"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Root == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Root = wd
		}
	}

	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}

	if c.OutputName == "" {
		c.OutputName = DefaultOutputName
	}

	if c.MapName == "" {
		c.MapName = DefaultMapName
	}

	if c.Compiler.Path == "" {
		c.Compiler.Path = DefaultCompilerPath
	}

	if c.Configure.Path == "" {
		c.Configure.Path = DefaultConfigurePath
	}

	if len(c.Configure.Args) == 0 {
		c.Configure.Args = append([]string(nil), DefaultConfigureArgs...)
	}

	if c.Configure.OptionPrefix == "" {
		c.Configure.OptionPrefix = DefaultOptionPrefix
	}

	if c.Configure.IncludeOption == "" {
		c.Configure.IncludeOption = DefaultIncludeOption
	}

	if c.BuildTool.Path == "" {
		c.BuildTool.Path = DefaultBuildToolPath
	}

	if len(c.BuildTool.Args) == 0 {
		c.BuildTool.Args = append([]string(nil), DefaultBuildToolArgs...)
	}

	if c.Link.Path == "" {
		c.Link.Path = c.Compiler.Path
	}

	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

func (c *Config) Validate() error {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("invalid project root: %v", err)
	}

	c.Root = root

	if c.Jobs < 0 {
		return fmt.Errorf("invalid job count: %d", c.Jobs)
	}

	if c.Jobs == 0 {
		c.Jobs = runtime.NumCPU()
	}

	if c.OutputName == "" || strings.ContainsRune(c.OutputName, filepath.Separator) {
		return fmt.Errorf("invalid output name: %q", c.OutputName)
	}

	if c.Compiler.Path == "" {
		return fmt.Errorf("compiler path not specified")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}

	c.OutputDir = c.resolve(c.OutputDir)
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.OutputDir, CacheDirName)
	}

	c.CacheDir = c.resolve(c.CacheDir)
	if c.MetricsFile != "" {
		c.MetricsFile = c.resolve(c.MetricsFile)
	}

	c.Compiler.Path = c.resolveTool(c.Compiler.Path)
	c.Configure.Path = c.resolveTool(c.Configure.Path)
	c.BuildTool.Path = c.resolveTool(c.BuildTool.Path)
	c.Link.Path = c.resolveTool(c.Link.Path)
	if c.Package.Path != "" {
		c.Package.Path = c.resolveTool(c.Package.Path)
	}

	if err := c.validateSources(); err != nil {
		return err
	}

	c.resolveAll(c.Compiler.IncludeDirs)
	c.resolveAll(c.Link.StaticLibs)
	c.resolveAll(c.Link.OptionalLibs)
	c.resolveAll(c.Clean.Dirs)
	c.resolveAll(c.Clean.DeepDirs)

	return c.validateDependencies()
}

func (c *Config) validateSources() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	objects := make(map[string]string, len(c.Sources))
	for i, source := range c.Sources {
		if source == "" {
			return fmt.Errorf("empty source path at index %d", i)
		}

		c.Sources[i] = c.resolve(source)

		name := utils.ObjectName(source)
		if prev, ok := objects[name]; ok {
			return fmt.Errorf("duplicate object name %s for %s and %s", name, prev, c.Sources[i])
		}

		objects[name] = c.Sources[i]
	}

	return nil
}

func (c *Config) validateDependencies() error {
	names := make(map[string]bool, len(c.Dependencies))

	for i := range c.Dependencies {
		dep := &c.Dependencies[i]

		if dep.Name == "" {
			return fmt.Errorf("dependency at index %d has no name", i)
		}

		if strings.ContainsAny(dep.Name, `/\`) || strings.Contains(dep.Name, "..") {
			return fmt.Errorf("invalid dependency name: %q", dep.Name)
		}

		if names[dep.Name] {
			return fmt.Errorf("duplicate dependency name: %s", dep.Name)
		}

		names[dep.Name] = true

		if dep.Artifact == "" {
			return fmt.Errorf("dependency %s: artifact not specified", dep.Name)
		}

		if dep.Target == "" {
			return fmt.Errorf("dependency %s: target not specified", dep.Name)
		}

		if dep.SourceDir == "" {
			return fmt.Errorf("dependency %s: source_dir not specified", dep.Name)
		}

		if dep.BuildDir == "" {
			dep.BuildDir = filepath.Join(c.CacheDir, strings.ToLower(dep.Name))
		}

		dep.Artifact = c.resolve(dep.Artifact)
		dep.SourceDir = c.resolve(dep.SourceDir)
		dep.BuildDir = c.resolve(dep.BuildDir)

		if err := c.checkBuildDir(dep); err != nil {
			return err
		}

		for j := range dep.Headers {
			h := &dep.Headers[j]

			switch h.From {
			case "", "source":
				h.From = "source"
			case "build":
			default:
				return fmt.Errorf("dependency %s: invalid header origin: %s", dep.Name, h.From)
			}

			if h.Dest == "" {
				return fmt.Errorf("dependency %s: header destination not specified", dep.Name)
			}

			h.Dest = c.resolve(h.Dest)
		}
	}

	return nil
}

// checkBuildDir rejects build directories that would take the project, the
// dependency source or the build outputs with them when wiped
func (c *Config) checkBuildDir(dep *Dependency) error {
	protected := []struct {
		what string
		path string
	}{
		{"project root", c.Root},
		{"source_dir", dep.SourceDir},
		{"cache directory", c.CacheDir},
		{"output directory", c.OutputDir},
	}

	for _, p := range protected {
		if utils.IsWithin(dep.BuildDir, p.path) {
			return fmt.Errorf("dependency %s: build_dir %s contains the %s", dep.Name, dep.BuildDir, p.what)
		}
	}

	return nil
}

// OutputPath returns the absolute path of the linked binary
func (c *Config) OutputPath() string {
	return filepath.Join(c.OutputDir, c.OutputName)
}

// MapPath returns the absolute path of the linker symbol map
func (c *Config) MapPath() string {
	return filepath.Join(c.OutputDir, c.MapName)
}

// ObjectPath returns the object file produced for a source
func (c *Config) ObjectPath(source string) string {
	return filepath.Join(c.CacheDir, utils.ObjectName(source))
}

// Environment returns the process environment extended with the configured
// toolchain variables.
func (c *Config) Environment() []string {
	env := os.Environ()
	return append(env, c.Env...)
}

func (c *Config) resolve(path string) string {
	if path == "" {
		return ""
	}

	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(c.Root, path)
}

func (c *Config) resolveAll(paths []string) {
	for i, path := range paths {
		if path != "" {
			paths[i] = c.resolve(path)
		}
	}
}

// resolveTool leaves bare command names for PATH lookup
func (c *Config) resolveTool(path string) string {
	if !strings.ContainsAny(path, `/\`) {
		return path
	}

	return c.resolve(path)
}
