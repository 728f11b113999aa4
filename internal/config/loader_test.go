package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().IntP("jobs", "j", 0, "Parallel compile jobs")
	cmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	cmd.Flags().String("log-format", "text", "Log format")
	cmd.Flags().String("metrics-file", "", "Metrics textfile")
	cmd.Flags().StringP("config", "c", "", "Config file")
	return cmd
}

func testLoader(globalBase string) *Loader {
	return &Loader{
		globalDir: func() (string, error) { return globalBase, nil },
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	assert.NotNil(t, loader)
	assert.NotNil(t, loader.globalDir)
}

func TestLoader_SetupViperDefaults(t *testing.T) {
	viper.Reset()
	loader := NewLoader()
	loader.setupViperDefaults()

	assert.Equal(t, DefaultCompilerPath, viper.GetString("compiler.path"))
	assert.Equal(t, DefaultConfigurePath, viper.GetString("configure.path"))
	assert.Equal(t, DefaultBuildToolArgs, viper.GetStringSlice("build_tool.args"))
	assert.Equal(t, DefaultOutputDir, viper.GetString("output_dir"))
	assert.Equal(t, false, viper.GetBool("verbose"))
}

func TestLoader_LoadGlobalConfig(t *testing.T) {
	base := t.TempDir()

	t.Run("loads yaml config", func(t *testing.T) {
		viper.Reset()
		writeFile(t, filepath.Join(base, "nbuild", "config.yml"), "compiler:\n  path: /usr/bin/clang++\njobs: 6\n")

		testLoader(base).loadGlobalConfig()

		assert.Equal(t, "/usr/bin/clang++", viper.GetString("compiler.path"))
		assert.Equal(t, 6, viper.GetInt("jobs"))
	})

	t.Run("loads json config", func(t *testing.T) {
		viper.Reset()
		require.NoError(t, os.Remove(filepath.Join(base, "nbuild", "config.yml")))
		writeFile(t, filepath.Join(base, "nbuild", "config.json"), `{"compiler": {"path": "/opt/clang++"}}`)

		testLoader(base).loadGlobalConfig()

		assert.Equal(t, "/opt/clang++", viper.GetString("compiler.path"))
	})

	t.Run("handles missing config dir gracefully", func(t *testing.T) {
		viper.Reset()

		loader := &Loader{globalDir: func() (string, error) { return "", os.ErrNotExist }}

		assert.NotPanics(t, func() {
			loader.loadGlobalConfig()
		})
	})
}

func TestLoader_LoadLocalConfig(t *testing.T) {
	t.Run("loads local config from project directory", func(t *testing.T) {
		viper.Reset()

		project := t.TempDir()
		writeFile(t, filepath.Join(project, ".nbuild.yml"), "output_name: runtime.dylib\nsources: [src/a.cpp]\n")

		err := testLoader("").loadLocalConfig(nil, []string{project})
		require.NoError(t, err)

		assert.Equal(t, "runtime.dylib", viper.GetString("output_name"))
		assert.Equal(t, project, viper.GetString("root"))
	})

	t.Run("walks up directory tree and roots at the config file", func(t *testing.T) {
		viper.Reset()

		project := t.TempDir()
		nested := filepath.Join(project, "src", "nested")
		require.NoError(t, os.MkdirAll(nested, 0o755))
		writeFile(t, filepath.Join(project, ".nbuild.yml"), "jobs: 2\n")

		err := testLoader("").loadLocalConfig(nil, []string{nested})
		require.NoError(t, err)

		assert.Equal(t, 2, viper.GetInt("jobs"))
		assert.Equal(t, project, viper.GetString("root"))
	})

	t.Run("explicit config file", func(t *testing.T) {
		viper.Reset()

		dir := t.TempDir()
		path := filepath.Join(dir, "ci", "build.yml")
		writeFile(t, path, "output_dir: ci-out\n")

		cmd := newTestCommand()
		require.NoError(t, cmd.Flags().Set("config", path))

		err := testLoader("").loadLocalConfig(cmd, nil)
		require.NoError(t, err)

		assert.Equal(t, "ci-out", viper.GetString("output_dir"))
		assert.Equal(t, filepath.Dir(path), viper.GetString("root"))
	})

	t.Run("explicit config file must exist", func(t *testing.T) {
		viper.Reset()

		cmd := newTestCommand()
		require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yml")))

		err := testLoader("").loadLocalConfig(cmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config")
	})
}

func TestLoader_BindCommandFlags(t *testing.T) {
	viper.Reset()

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("jobs", "5"))
	require.NoError(t, cmd.Flags().Set("verbose", "true"))
	require.NoError(t, cmd.Flags().Set("log-format", "json"))
	require.NoError(t, cmd.Flags().Set("metrics-file", "metrics.prom"))

	loader := NewLoader()
	loader.bindCommandFlags(cmd)

	assert.Equal(t, 5, viper.GetInt("jobs"))
	assert.Equal(t, true, viper.GetBool("verbose"))
	assert.Equal(t, "json", viper.GetString("log_format"))
	assert.Equal(t, "metrics.prom", viper.GetString("metrics_file"))
}

func TestLoader_BindEnvironment(t *testing.T) {
	viper.Reset()
	t.Setenv("NBUILD_JOBS", "7")

	loader := NewLoader()
	loader.setupViperDefaults()
	loader.bindEnvironment()

	assert.Equal(t, 7, viper.GetInt("jobs"))
}

func TestLoader_LoadForBuild_Integration(t *testing.T) {
	t.Run("flags override local override global", func(t *testing.T) {
		viper.Reset()

		base := t.TempDir()
		writeFile(t, filepath.Join(base, "nbuild", "config.yml"), "compiler:\n  path: /global/clang++\njobs: 2\nverbose: false\n")

		project := t.TempDir()
		writeFile(t, filepath.Join(project, ".nbuild.yml"), "jobs: 3\nverbose: true\nsources: [src/main.cpp]\n")

		cmd := newTestCommand()
		require.NoError(t, cmd.Flags().Set("log-format", "json"))

		cfg, err := testLoader(base).LoadForBuild(cmd, []string{project})
		require.NoError(t, err)

		// Global value survives where the local file is silent
		assert.Equal(t, filepath.Clean("/global/clang++"), cfg.Compiler.Path)
		// Local config overrides global
		assert.Equal(t, 3, cfg.Jobs)
		assert.True(t, cfg.Verbose)
		// Flag value wins
		assert.Equal(t, "json", cfg.LogFormat)

		assert.Equal(t, project, cfg.Root)
		assert.Equal(t, []string{filepath.Join(project, "src", "main.cpp")}, cfg.Sources)
	})
}
