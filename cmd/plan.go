package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/nbuild/internal/cache"
	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/deps"
	"github.com/Norgate-AV/nbuild/internal/logging"
)

var planCmd = &cobra.Command{
	Use:          "plan [project-dir]",
	Short:        "Show what a build would do",
	Long:         `Print the dependency build order with the state of each dependency, and the sources a build would compile. Nothing is executed.`,
	RunE:         runPlan,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	mapping := cache.NewMapping()
	if store, err := cache.Open(cfg.CacheDir, logger); err == nil {
		mapping = store.Load()
		store.Close()
	} else {
		logger.Warn("Fingerprint cache unavailable", logging.Error(err))
	}

	return printPlan(cmd.OutOrStdout(), cfg, mapping)
}

func printPlan(w io.Writer, cfg *config.Config, mapping *cache.Mapping) error {
	plan, err := deps.Plan(cfg.Dependencies)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Dependencies:")
	if len(plan) == 0 {
		fmt.Fprintln(w, "  (none)")
	}

	for i, dep := range plan {
		fmt.Fprintf(w, "  %d. %-16s %s\n", i+1, dep.Name, deps.Inspect(dep))
	}

	fmt.Fprintln(w, "Sources:")
	for _, source := range cfg.Sources {
		state := "up to date"
		switch {
		case !fileExists(source):
			state = "missing"
		case cache.IsStale(source, mapping, true) || !fileExists(cfg.ObjectPath(source)):
			state = "compile"
		}

		fmt.Fprintf(w, "  %-10s %s\n", state, source)
	}

	fmt.Fprintf(w, "Output: %s\n", cfg.OutputPath())

	return nil
}
