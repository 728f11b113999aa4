package cmd

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Norgate-AV/nbuild/internal/config"
)

var checkCmd = &cobra.Command{
	Use:          "check [project-dir]",
	Short:        "Check that every configured tool is available",
	RunE:         runCheck,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

// lookPath is replaced in tests
var lookPath = exec.LookPath

// tool is one external program the build needs
type tool struct {
	Role string
	Path string
}

// requiredTools lists the tools a build invokes. Dependency tools are only
// needed when dependencies are configured.
func requiredTools(cfg *config.Config) []tool {
	tools := []tool{{Role: "compiler", Path: cfg.Compiler.Path}}

	if len(cfg.Dependencies) > 0 {
		tools = append(tools,
			tool{Role: "configure", Path: cfg.Configure.Path},
			tool{Role: "build", Path: cfg.BuildTool.Path})
	}

	if cfg.Link.Path != cfg.Compiler.Path {
		tools = append(tools, tool{Role: "linker", Path: cfg.Link.Path})
	}

	if cfg.Package.Path != "" {
		tools = append(tools, tool{Role: "package", Path: cfg.Package.Path})
	}

	return tools
}

// missingTools returns the paths of required tools that cannot be found
func missingTools(cfg *config.Config) []string {
	var missing []string

	for _, t := range requiredTools(cfg) {
		if _, err := lookPath(t.Path); err != nil {
			missing = append(missing, t.Path)
		}
	}

	return missing
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	if !printToolCheck(cmd.OutOrStdout(), cfg) {
		return fmt.Errorf("required tools not found")
	}

	return nil
}

// printToolCheck prints the status of every tool and reports whether all
// of them were found
func printToolCheck(w io.Writer, cfg *config.Config) bool {
	ok := true

	for _, t := range requiredTools(cfg) {
		resolved, err := lookPath(t.Path)
		if err != nil {
			ok = false
			color.New(color.FgRed).Fprintf(w, "✗ %-10s %s (not found)\n", t.Role, t.Path)
			continue
		}

		color.New(color.FgGreen).Fprintf(w, "✓ %-10s %s\n", t.Role, resolved)
	}

	return ok
}
