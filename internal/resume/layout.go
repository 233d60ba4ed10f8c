// Package resume owns the on-disk layout of a run and the file existence
// checks that let an interrupted run pick up where it left off.
package resume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrAborted is returned when the user declines to remove previous results.
var ErrAborted = errors.New("aborted by user")

// Layout is the output tree of one scale (or of the scale-less run).
type Layout struct {
	Output string
	Scale  string
}

// NewLayout returns the layout for scale below output.
func NewLayout(output, scale string) Layout {
	return Layout{Output: output, Scale: scale}
}

// Base is <output>/scale<S>, or <output>/clustering without a scale.
func (l Layout) Base() string {
	if l.Scale != "" {
		return filepath.Join(l.Output, "scale"+l.Scale)
	}
	return filepath.Join(l.Output, "clustering")
}

// LogDir holds the per-file tool logs.
func (l Layout) LogDir() string { return filepath.Join(l.Base(), "log") }

// NetCDFDir holds the cluster files.
func (l Layout) NetCDFDir() string { return filepath.Join(l.Base(), "netcdf") }

// TracksDir holds the track statistics output.
func (l Layout) TracksDir() string { return filepath.Join(l.Base(), "tracks") }

// VisualisationDir holds rendered images and movies.
func (l Layout) VisualisationDir() string { return filepath.Join(l.Base(), "visualisation") }

// Prepare creates the output tree. Without resume the log and netcdf
// directories are wiped and recreated; with resume they are only ensured.
func Prepare(l Layout, resume bool) error {
	if err := os.MkdirAll(l.Base(), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", l.Base(), err)
	}
	for _, dir := range []string{l.LogDir(), l.NetCDFDir()} {
		if !resume {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("failed to remove %s: %w", dir, err)
			}
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ResultDirs returns the base directories a run over scales writes.
func ResultDirs(output string, scales []string) []string {
	if len(scales) == 0 {
		return []string{NewLayout(output, "").Base()}
	}
	dirs := make([]string, 0, len(scales))
	for _, s := range scales {
		dirs = append(dirs, NewLayout(output, s).Base())
	}
	return dirs
}

// ExistingResults returns the result directories that already exist.
func ExistingResults(output string, scales []string) []string {
	var existing []string
	for _, dir := range ResultDirs(output, scales) {
		if _, err := os.Stat(dir); err == nil {
			existing = append(existing, dir)
		}
	}
	return existing
}

// RemoveResults deletes previous results after confirm approves. When no
// results exist confirm is not called. A declined confirmation returns
// ErrAborted and leaves everything in place.
func RemoveResults(output string, scales []string, confirm func(prompt string) bool) error {
	existing := ExistingResults(output, scales)
	if len(existing) == 0 {
		return nil
	}
	if confirm != nil && !confirm("Results exist from previous runs. They will be removed. Do you wish to proceed?") {
		return ErrAborted
	}
	for _, dir := range existing {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	return nil
}
