package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys
const EnvPrefix = "NBUILD"

// Loader handles configuration loading from various sources
type Loader struct {
	globalDir func() (string, error)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		globalDir: os.UserConfigDir,
	}
}

// LoadForBuild loads configuration for the project containing args[0], or the
// working directory when no argument is given
func (l *Loader) LoadForBuild(cmd *cobra.Command, args []string) (*Config, error) {
	l.setupViperDefaults()
	l.bindEnvironment()
	l.loadGlobalConfig()

	if err := l.loadLocalConfig(cmd, args); err != nil {
		return nil, err
	}

	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("output_dir", DefaultOutputDir)
	viper.SetDefault("output_name", DefaultOutputName)
	viper.SetDefault("map_name", DefaultMapName)
	viper.SetDefault("jobs", 0)
	viper.SetDefault("compiler.path", DefaultCompilerPath)
	viper.SetDefault("configure.path", DefaultConfigurePath)
	viper.SetDefault("configure.args", DefaultConfigureArgs)
	viper.SetDefault("configure.option_prefix", DefaultOptionPrefix)
	viper.SetDefault("configure.include_option", DefaultIncludeOption)
	viper.SetDefault("build_tool.path", DefaultBuildToolPath)
	viper.SetDefault("build_tool.args", DefaultBuildToolArgs)
	viper.SetDefault("verbose", DefaultVerbose)
	viper.SetDefault("log_format", DefaultLogFormat)
}

// bindEnvironment lets NBUILD_* variables override scalar keys
func (l *Loader) bindEnvironment() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	base, err := l.globalDir()
	if err != nil || base == "" {
		return
	}

	globalPath := configIn(filepath.Join(base, "nbuild"), GlobalConfigName)
	if globalPath == "" {
		return
	}

	viper.SetConfigFile(globalPath)
	_ = viper.ReadInConfig()
}

// loadLocalConfig merges the project configuration over the global one and
// records the project root
func (l *Loader) loadLocalConfig(cmd *cobra.Command, args []string) error {
	explicit := ""
	if cmd != nil {
		if f := cmd.Flags().Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
	}

	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return fmt.Errorf("invalid config path: %w", err)
		}

		viper.SetConfigFile(abs)
		if err := viper.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", abs, err)
		}

		viper.Set("root", filepath.Dir(abs))
		return nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if len(args) > 0 {
		dir, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid project directory: %w", err)
		}

		viper.Set("root", dir)
	}

	project, found := FindProject(dir)
	if !found {
		return nil
	}

	viper.SetConfigFile(project.ConfigPath)
	if err := viper.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", project.ConfigPath, err)
	}

	viper.Set("root", project.Root)

	return nil
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	_ = viper.BindPFlag("jobs", cmd.Flags().Lookup("jobs"))
	_ = viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
	_ = viper.BindPFlag("log_format", cmd.Flags().Lookup("log-format"))
	_ = viper.BindPFlag("metrics_file", cmd.Flags().Lookup("metrics-file"))
}
