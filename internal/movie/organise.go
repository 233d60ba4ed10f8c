package movie

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Directories Organise moves results into.
const (
	ImagesDir = "images"
	MoviesDir = "movies"
)

var movieExtensions = map[string]bool{".gif": true, ".avi": true, ".m4v": true, ".mp4": true}

// Organise moves images into <dir>/images and movies into <dir>/movies and
// removes intermediary VTK files and generated scripts. Script logs stay.
func Organise(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, sub := range []string{ImagesDir, MoviesDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return err
		}
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		ext := strings.ToLower(filepath.Ext(name))

		switch {
		case ext == ".png":
			err = os.Rename(path, filepath.Join(dir, ImagesDir, name))
		case movieExtensions[ext]:
			err = os.Rename(path, filepath.Join(dir, MoviesDir, name))
		case IsIntermediary(name):
			err = os.Remove(path)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to organise %s: %w", name, err)
		}
	}
	return nil
}

// IsIntermediary reports whether a file in the visualisation directory is
// a by-product: converted VTK meshes, generated scripts and VisIt's log.
func IsIntermediary(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case strings.HasPrefix(ext, ".vt"):
		return true
	case name == "visitlog.py":
		return true
	case strings.HasPrefix(name, "render-") && ext == ".py":
		return true
	}
	return false
}
