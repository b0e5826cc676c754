package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands environment variables and a leading ~ in path.
// "~user" forms are returned unchanged.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	path = os.ExpandEnv(path)

	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

// ResolvePath expands path and anchors it at base when it is still relative.
// An empty base leaves relative paths as they are.
func ResolvePath(path, base string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil || expanded == "" {
		return expanded, err
	}
	if base == "" || filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return filepath.Join(base, expanded), nil
}
