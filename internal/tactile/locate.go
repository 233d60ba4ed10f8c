package tactile

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrToolNotFound is wrapped by MissingToolsError.
var ErrToolNotFound = errors.New("tool not found")

// MissingToolsError lists every tool Locate could not resolve.
type MissingToolsError struct {
	Names []string
}

func (e *MissingToolsError) Error() string {
	return fmt.Sprintf("could not locate %s; check your installation or the tools section of the settings",
		strings.Join(e.Names, ", "))
}

func (e *MissingToolsError) Unwrap() error { return ErrToolNotFound }

// Locate resolves each name to an executable path. Names containing a path
// separator are checked as given; bare names are looked up in searchPaths
// first, then in $PATH. All missing tools are reported together.
func Locate(names []string, searchPaths []string) (map[string]string, error) {
	found := make(map[string]string, len(names))
	var missing []string

	for _, name := range names {
		if name == "" {
			continue
		}
		if path, ok := LocateOne(name, searchPaths); ok {
			found[name] = path
			continue
		}
		missing = append(missing, name)
	}

	if len(missing) > 0 {
		return found, &MissingToolsError{Names: missing}
	}
	return found, nil
}

// LocateOne resolves a single tool, reporting whether it was found.
func LocateOne(name string, searchPaths []string) (string, bool) {
	if strings.ContainsRune(name, filepath.Separator) {
		if isExecutable(name) {
			abs, err := filepath.Abs(name)
			if err != nil {
				return name, true
			}
			return abs, true
		}
		return "", false
	}

	for _, dir := range searchPaths {
		candidate := filepath.Join(os.ExpandEnv(dir), name)
		if isExecutable(candidate) {
			return candidate, true
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, true
	}
	return "", false
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
