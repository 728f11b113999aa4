package compiler

import (
	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/utils"
)

// CommandBuilder derives tool invocations from the configuration
type CommandBuilder struct {
	cfg *config.Config
	env []string
}

// NewCommandBuilder creates a new command builder
func NewCommandBuilder(cfg *config.Config) *CommandBuilder {
	return &CommandBuilder{
		cfg: cfg,
		env: cfg.Environment(),
	}
}

// CompileArgs builds the compiler arguments for one translation unit
func (cb *CommandBuilder) CompileArgs(source, object string) []string {
	c := cb.cfg.Compiler

	var args []string
	args = append(args, c.Flags...)

	for _, define := range c.Defines {
		if define != "" {
			args = append(args, "-D"+define)
		}
	}

	for _, dir := range c.IncludeDirs {
		if dir != "" {
			args = append(args, "-I"+dir)
		}
	}

	args = append(args, "-c", source, "-o", object)

	return args
}

// CompileCommand builds the compile invocation for one translation unit
func (cb *CommandBuilder) CompileCommand(source, object string) Command {
	return Command{
		Path:    cb.cfg.Compiler.Path,
		Args:    cb.CompileArgs(source, object),
		Dir:     cb.cfg.Root,
		Env:     cb.env,
		Timeout: cb.cfg.Compiler.Timeout,
	}
}

// ConfigureCommand builds the configure invocation of a dependency. Options
// are rendered in order after the configured arguments.
func (cb *CommandBuilder) ConfigureCommand(dep config.Dependency, options []config.Option) Command {
	c := cb.cfg.Configure

	args := utils.ExpandArgs(c.Args, placeholders(dep))
	for _, opt := range options {
		args = append(args, c.OptionPrefix+opt.Key+"="+opt.Value)
	}

	return Command{
		Path:    c.Path,
		Args:    args,
		Dir:     dep.SourceDir,
		Env:     cb.env,
		Timeout: c.Timeout,
	}
}

// BuildToolCommand builds the build phase invocation of a dependency
func (cb *CommandBuilder) BuildToolCommand(dep config.Dependency) Command {
	b := cb.cfg.BuildTool

	return Command{
		Path:    b.Path,
		Args:    utils.ExpandArgs(b.Args, placeholders(dep)),
		Dir:     dep.BuildDir,
		Env:     cb.env,
		Timeout: b.Timeout,
	}
}

func placeholders(dep config.Dependency) map[string]string {
	return map[string]string{
		utils.SourceDirPlaceholder: dep.SourceDir,
		utils.BuildDirPlaceholder:  dep.BuildDir,
	}
}
