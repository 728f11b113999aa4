package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/nbuild/internal/codes"
	"github.com/Norgate-AV/nbuild/internal/compiler"
	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/logging"
	"github.com/Norgate-AV/nbuild/internal/metrics"
	"github.com/Norgate-AV/nbuild/internal/orchestrator"
)

var buildCmd = &cobra.Command{
	Use:          "build [project-dir]",
	Short:        "Build the project",
	Long:         `Resolve dependencies, compile stale sources in parallel, link and package the binary.`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

func init() {
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("skip-deps", false, "Do not build dependencies")
	cmd.Flags().Bool("skip-cache", false, "Recompile every source regardless of fingerprints")
	cmd.Flags().Bool("skip-packaging", false, "Do not run the packaging command")
}

func buildFlags(cmd *cobra.Command) orchestrator.Flags {
	skipDeps, _ := cmd.Flags().GetBool("skip-deps")
	skipCache, _ := cmd.Flags().GetBool("skip-cache")
	skipPackaging, _ := cmd.Flags().GetBool("skip-packaging")

	return orchestrator.Flags{
		SkipDeps:      skipDeps,
		SkipCache:     skipCache,
		SkipPackaging: skipPackaging,
	}
}

// loadConfig loads the configuration and sets up logging for cmd
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, *slog.Logger, error) {
	loader := config.NewLoader()

	cfg, err := loader.LoadForBuild(cmd, args)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.Setup(logging.Config{
		Format: cfg.LogFormat,
		Level:  logging.LevelFor(cfg.Verbose),
	})

	return cfg, logger, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	if missing := missingTools(cfg); len(missing) > 0 {
		return fmt.Errorf("required tools not found: %v", missing)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := build(ctx, cfg, logger, buildFlags(cmd), cmd.OutOrStdout(), cmd.ErrOrStderr())
	if report.Status != codes.Success {
		return &statusError{status: report.Status, err: report.Err}
	}

	return nil
}

// build runs one orchestration with the production runner and reports it
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, flags orchestrator.Flags, out, diag io.Writer) *orchestrator.Report {
	runner := compiler.NewExecRunner()

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var prom *metrics.PrometheusRecorder
	if cfg.MetricsFile != "" {
		prom = metrics.NewPrometheusRecorder(nil)
		recorder = prom
	}

	opts := orchestrator.Options{
		Runner:      runner,
		Recorder:    recorder,
		Logger:      logger,
		Diagnostics: diag,
	}

	if p := orchestrator.NewCommandPackager(cfg, runner); p != nil {
		opts.Packager = p
	}

	if cfg.Verbose {
		printBuildInfo(out, cfg)
	}

	report := orchestrator.New(cfg, opts).Run(ctx, flags)

	if prom != nil {
		if err := prom.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("Failed to write metrics", logging.Error(err))
		}
	}

	printSummary(out, report)

	return report
}
