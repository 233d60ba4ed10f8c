package resume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	l := NewLayout("/out", "25")
	assert.Equal(t, filepath.Join("/out", "scale25"), l.Base())
	assert.Equal(t, filepath.Join("/out", "scale25", "log"), l.LogDir())
	assert.Equal(t, filepath.Join("/out", "scale25", "netcdf"), l.NetCDFDir())
	assert.Equal(t, filepath.Join("/out", "scale25", "tracks"), l.TracksDir())
	assert.Equal(t, filepath.Join("/out", "scale25", "visualisation"), l.VisualisationDir())

	assert.Equal(t, filepath.Join("/out", "clustering"), NewLayout("/out", "").Base())
}

func TestPrepare(t *testing.T) {
	out := t.TempDir()
	l := NewLayout(out, "10")

	require.NoError(t, Prepare(l, false))
	stale := filepath.Join(l.NetCDFDir(), "old-clusters.nc")
	require.NoError(t, os.WriteFile(stale, nil, 0644))

	require.NoError(t, Prepare(l, true))
	assert.FileExists(t, stale, "resume keeps previous cluster files")

	require.NoError(t, Prepare(l, false))
	assert.NoFileExists(t, stale, "a fresh run wipes previous cluster files")
	assert.DirExists(t, l.LogDir())
}

func TestRemoveResults(t *testing.T) {
	out := t.TempDir()
	scales := []string{"10", "25"}

	asked := 0
	yes := func(string) bool { asked++; return true }
	no := func(string) bool { asked++; return false }

	require.NoError(t, RemoveResults(out, scales, no))
	assert.Equal(t, 0, asked, "nothing to remove, nothing to ask")

	require.NoError(t, os.MkdirAll(filepath.Join(out, "scale25", "netcdf"), 0755))
	assert.Equal(t, []string{filepath.Join(out, "scale25")}, ExistingResults(out, scales))

	err := RemoveResults(out, scales, no)
	assert.ErrorIs(t, err, ErrAborted)
	assert.DirExists(t, filepath.Join(out, "scale25"))

	require.NoError(t, RemoveResults(out, scales, yes))
	assert.NoDirExists(t, filepath.Join(out, "scale25"))
	assert.Equal(t, 2, asked)

	require.NoError(t, os.MkdirAll(filepath.Join(out, "clustering"), 0755))
	require.NoError(t, RemoveResults(out, nil, yes))
	assert.NoDirExists(t, filepath.Join(out, "clustering"))
}

func TestImageName(t *testing.T) {
	assert.Equal(t, "p2_tracking_0017.png", ImageName(2, "tracking", 17))
	assert.Equal(t, "source_0000.png", ImageName(0, "source", 0))
	assert.Equal(t, "source_12345.png", ImageName(0, "source", 12345))
	assert.Equal(t, "p1_source_", ImagePrefix(1, "source"))
	assert.Equal(t, "tracking_", ImagePrefix(0, "tracking"))
}

func TestImagesExistAndDelete(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("png"), 0644))
	}

	assert.Equal(t, None, ImagesExist(dir, "source", 3, 2))

	write("p1_source_0003.png")
	assert.Equal(t, Partial, ImagesExist(dir, "source", 3, 2))

	write("p2_source_0003.png")
	assert.Equal(t, All, ImagesExist(dir, "source", 3, 2))
	assert.Equal(t, None, ImagesExist(dir, "source", 4, 2))

	require.NoError(t, DeleteImages(dir, "source", 3, 2))
	assert.Equal(t, None, ImagesExist(dir, "source", 3, 2))
	require.NoError(t, DeleteImages(dir, "source", 3, 2), "deleting missing images is not an error")

	write("tracking_0000.png")
	assert.Equal(t, All, ImagesExist(dir, "tracking", 0, 0))
	assert.Equal(t, "all", All.String())
	assert.Equal(t, "partial", Partial.String())
}
