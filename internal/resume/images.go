package resume

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Presence says how many of the images of one frame exist.
type Presence int

const (
	None Presence = iota
	Partial
	All
)

func (p Presence) String() string {
	switch p {
	case None:
		return "none"
	case Partial:
		return "partial"
	case All:
		return "all"
	}
	return fmt.Sprintf("Presence(%d)", int(p))
}

// ImageName returns the file name of frame index rendered from perspective
// (1-based): p<N>_<basename>_<NNNN>.png, or <basename>_<NNNN>.png when
// perspective is 0 (no perspectives configured).
func ImageName(perspective int, basename string, index int) string {
	if perspective > 0 {
		return fmt.Sprintf("p%d_%s_%04d.png", perspective, basename, index)
	}
	return fmt.Sprintf("%s_%04d.png", basename, index)
}

// ImagePrefix is ImageName without the frame number and extension.
func ImagePrefix(perspective int, basename string) string {
	if perspective > 0 {
		return fmt.Sprintf("p%d_%s_", perspective, basename)
	}
	return basename + "_"
}

func imageNames(basename string, index, perspectives int) []string {
	if perspectives <= 0 {
		return []string{ImageName(0, basename, index)}
	}
	names := make([]string, 0, perspectives)
	for p := 1; p <= perspectives; p++ {
		names = append(names, ImageName(p, basename, index))
	}
	return names
}

// ImagesExist reports whether the images of frame index exist in dir for
// all, some or none of the perspectives.
func ImagesExist(dir, basename string, index, perspectives int) Presence {
	names := imageNames(basename, index, perspectives)
	found := 0
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			found++
		}
	}
	switch found {
	case 0:
		return None
	case len(names):
		return All
	}
	return Partial
}

// DeleteImages removes whatever images of frame index exist in dir.
func DeleteImages(dir, basename string, index, perspectives int) error {
	var errs []error
	for _, name := range imageNames(basename, index, perspectives) {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
