package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Norgate-AV/nbuild/internal/codes"
	"github.com/Norgate-AV/nbuild/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "nbuild [project-dir]",
	Short:         "Incremental native build orchestrator",
	Long:          `Build external static libraries, compile changed sources in parallel and link them into one shared binary.`,
	RunE:          runBuild,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.MaximumNArgs(1),
}

// statusError carries the exit status of a failed build
type statusError struct {
	status codes.ExitStatus
	err    error
}

func (e *statusError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", codes.GetMessage(e.status), e.err)
	}

	return codes.GetMessage(e.status)
}

func (e *statusError) Unwrap() error {
	return e.err
}

// exitCode maps a command error to the process exit code
func exitCode(err error) int {
	if err == nil {
		return codes.Success.Code()
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.status.Code()
	}

	return codes.ConfigError.Code()
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		var se *statusError
		if !errors.As(err, &se) {
			// Build failures are reported by the summary already
			color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		}

		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.Version = version.String()
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: nearest .nbuild.* file)")
	rootCmd.PersistentFlags().IntP("jobs", "j", 0, "Parallel compile jobs (0 = number of CPUs)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().String("metrics-file", "", "Write Prometheus metrics to this file")
	addBuildFlags(rootCmd)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(checkCmd)
}
