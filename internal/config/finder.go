package config

import (
	"os"
	"path/filepath"
)

const (
	// ProjectConfigName is the base name of a project config file
	ProjectConfigName = ".nbuild"

	// GlobalConfigName is the base name of the per-user config file
	GlobalConfigName = "config"
)

// ConfigExtensions lists the config file formats viper reads, in lookup order
var ConfigExtensions = []string{"yml", "yaml", "json", "toml"}

// Project is a config file found on disk together with the project root it
// describes
type Project struct {
	ConfigPath string
	Root       string
}

// FindProject walks up from dir looking for a project config file. The
// directory holding the first match becomes the project root.
func FindProject(dir string) (Project, bool) {
	for {
		if path := configIn(dir, ProjectConfigName); path != "" {
			return Project{ConfigPath: path, Root: dir}, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Project{}, false
		}

		dir = parent
	}
}

// configIn returns the first existing regular file dir/base.<ext>
func configIn(dir, base string) string {
	for _, ext := range ConfigExtensions {
		path := filepath.Join(dir, base+"."+ext)

		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}

	return ""
}
