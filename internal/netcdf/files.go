// Package netcdf finds the NetCDF inputs of a run, derives the names of the
// files the external tools write for them and reads the little metadata the
// visualisation needs (variables and time axis).
package netcdf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Glob returns the *.nc files in dir sorted by name. Files are assumed to be
// in time order when sorted.
func Glob(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source directory %s is not a directory", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.nc"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Count returns the number of *.nc files in dir.
func Count(dir string) (int, error) {
	files, err := Glob(dir)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// Stem returns the file name without directory and extension.
func Stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// NumberedFilename returns "<stem>-<index>.nc", the name used for results
// of one time index of a multi-time input file.
func NumberedFilename(filename string, index int) string {
	return Stem(filename) + "-" + strconv.Itoa(index) + ".nc"
}

// ClusterFilename returns "<dir>/<stem>-clusters.nc", where the detection
// step writes (and the visualisation expects) the clusters of netcdfFile.
func ClusterFilename(dir, netcdfFile string) string {
	return filepath.Join(dir, Stem(netcdfFile)+"-clusters.nc")
}
