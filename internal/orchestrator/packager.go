package orchestrator

import (
	"context"
	"fmt"

	"github.com/Norgate-AV/nbuild/internal/compiler"
	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/utils"
)

// Packager consumes the linked binary
type Packager interface {
	Package(ctx context.Context, binary string) error
}

// CommandPackager hands the binary to an external packaging command
type CommandPackager struct {
	tool   config.ToolConfig
	dir    string
	env    []string
	runner compiler.Runner
}

// NewCommandPackager returns nil when no packaging command is configured
func NewCommandPackager(cfg *config.Config, runner compiler.Runner) *CommandPackager {
	if cfg.Package.Path == "" {
		return nil
	}

	return &CommandPackager{
		tool:   cfg.Package,
		dir:    cfg.Root,
		env:    cfg.Environment(),
		runner: runner,
	}
}

func (p *CommandPackager) Package(ctx context.Context, binary string) error {
	cmd := compiler.Command{
		Path:    p.tool.Path,
		Args:    utils.ExpandArgs(p.tool.Args, map[string]string{utils.BinaryPlaceholder: binary}),
		Dir:     p.dir,
		Env:     p.env,
		Timeout: p.tool.Timeout,
	}

	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		if res.Output != "" {
			return fmt.Errorf("packaging failed: %w\n%s", err, res.Output)
		}

		return fmt.Errorf("packaging failed: %w", err)
	}

	return nil
}
