package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/Norgate-AV/nbuild/internal/codes"
	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/orchestrator"
)

// printBuildInfo prints verbose build information
func printBuildInfo(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Root: %s\nCompiler: %s\nLinker: %s\nJobs: %d\nSources: %d\nDependencies: %d\nOutput: %s\nCache: %s\n",
		cfg.Root, cfg.Compiler.Path, cfg.Link.Path, cfg.Jobs, len(cfg.Sources), len(cfg.Dependencies), cfg.OutputPath(), cfg.CacheDir)
}

// printSummary prints the outcome of a build
func printSummary(w io.Writer, report *orchestrator.Report) {
	elapsed := report.Duration.Round(time.Millisecond)

	if report.Result != nil {
		fmt.Fprintf(w, "Compiled %d, up to date %d", report.Result.Compiled, report.Result.Skipped)
		if n := len(report.Result.Failures); n > 0 {
			fmt.Fprintf(w, ", failed %d", n)
		}
		fmt.Fprintln(w)

		for _, f := range report.Result.Failures {
			color.New(color.FgRed).Fprintf(w, "  FAILED %s (exit code %d)\n", f.Unit.Source, f.ExitCode)
		}
	}

	if len(report.Missing) > 0 {
		color.New(color.FgYellow).Fprintf(w, "Missing sources: %s\n", strings.Join(report.Missing, ", "))
	}

	if report.Status == codes.Success {
		color.New(color.FgGreen, color.Bold).Fprintf(w, "Build succeeded in %s\n", elapsed)
		fmt.Fprintf(w, "Output: %s\n", report.Binary)
		return
	}

	msg := codes.GetMessage(report.Status)
	if report.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, report.Err)
	}

	color.New(color.FgRed, color.Bold).Fprintf(w, "Build failed after %s (exit code %d)\n", elapsed, report.Status.Code())
	fmt.Fprintln(w, msg)
}
