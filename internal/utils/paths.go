package utils

import (
	"path/filepath"
	"strings"
)

// Placeholders expanded in configure and build tool arguments
const (
	SourceDirPlaceholder = "{source_dir}"
	BuildDirPlaceholder  = "{build_dir}"
	MapPlaceholder       = "{map}"
	BinaryPlaceholder    = "{binary}"
)

// ObjectName returns the object file name produced for a source file
func ObjectName(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".o"
}

// ExpandArgs replaces placeholders in every argument and returns a new slice
func ExpandArgs(args []string, values map[string]string) []string {
	expanded := make([]string, 0, len(args))

	for _, arg := range args {
		for placeholder, value := range values {
			arg = strings.ReplaceAll(arg, placeholder, value)
		}

		expanded = append(expanded, arg)
	}

	return expanded
}

// IsWithin reports whether path is dir itself or lies below it. Both paths
// are compared in cleaned absolute form.
func IsWithin(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
