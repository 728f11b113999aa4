package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/nbuild/internal/cache"
	"github.com/Norgate-AV/nbuild/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the fingerprint cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:          "stats [project-dir]",
	Short:        "Show fingerprint cache statistics",
	RunE:         runCacheStats,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

var cacheClearCmd = &cobra.Command{
	Use:          "clear [project-dir]",
	Short:        "Forget every fingerprint so the next build recompiles everything",
	RunE:         runCacheClear,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	store, err := cache.Open(cfg.CacheDir, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return printCacheStats(cmd.OutOrStdout(), cfg, store)
}

func printCacheStats(w io.Writer, cfg *config.Config, store *cache.Store) error {
	count, size, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	mapping := store.Load()
	stale := 0
	for _, source := range cfg.Sources {
		if cache.IsStale(source, mapping, true) {
			stale++
		}
	}

	fmt.Fprintf(w, "Database: %s\nEntries: %d\nSize: %d bytes\nStale sources: %d of %d\n",
		store.Path(), count, size, stale, len(cfg.Sources))

	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	store, err := cache.Open(cfg.CacheDir, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Fingerprint cache cleared")

	return nil
}
