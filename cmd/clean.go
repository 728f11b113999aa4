package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/nbuild/internal/config"
	"github.com/Norgate-AV/nbuild/internal/utils"
)

var cleanCmd = &cobra.Command{
	Use:          "clean [project-dir]",
	Short:        "Remove build outputs",
	Long:         `Remove the configured clean directories. With --deep, also remove the deep clean directories such as dependency sources.`,
	RunE:         runClean,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

func init() {
	cleanCmd.Flags().Bool("deep", false, "Also remove deep clean directories")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	deep, _ := cmd.Flags().GetBool("deep")

	return clean(cmd.OutOrStdout(), cfg, deep)
}

// cleanTargets returns the directories removed by clean. Without explicit
// clean dirs the output directory is removed.
func cleanTargets(cfg *config.Config, deep bool) []string {
	targets := cfg.Clean.Dirs
	if len(targets) == 0 {
		targets = []string{cfg.OutputDir}
	}

	if deep {
		targets = append(append([]string(nil), targets...), cfg.Clean.DeepDirs...)
	}

	return targets
}

func clean(w io.Writer, cfg *config.Config, deep bool) error {
	var targets []string

	for _, dir := range cleanTargets(cfg, deep) {
		if dir == "" {
			continue
		}

		dir = filepath.Clean(dir)
		if utils.IsWithin(dir, cfg.Root) || dir == filepath.Dir(dir) {
			return fmt.Errorf("refusing to remove %s: it contains the project", dir)
		}

		targets = append(targets, dir)
	}

	for _, dir := range targets {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}

		fmt.Fprintf(w, "Removed %s\n", dir)
	}

	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
