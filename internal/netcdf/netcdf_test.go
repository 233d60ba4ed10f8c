package netcdf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, nil, 0644))
}

func TestGlobAndCount(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"raa01-rx_10000-1405120105-dwd---bin.nc", "raa01-rx_10000-1405120100-dwd---bin.nc", "notes.txt"} {
		touch(t, filepath.Join(dir, name))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.nc.d"), 0755))

	files, err := Glob(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "raa01-rx_10000-1405120100-dwd---bin.nc", filepath.Base(files[0]))

	n, err := Count(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = Glob(filepath.Join(dir, "missing"))
	assert.Error(t, err)
	_, err = Glob(filepath.Join(dir, "notes.txt"))
	assert.Error(t, err)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "herz-oper", Stem("/data/herz-oper.nc"))
	assert.Equal(t, "herz-oper-12.nc", NumberedFilename("/data/herz-oper.nc", 12))
	assert.Equal(t, filepath.Join("/out/netcdf", "herz-oper-clusters.nc"), ClusterFilename("/out/netcdf", "/data/herz-oper.nc"))
	assert.Equal(t, filepath.Join("/out", "herz-oper-3-clusters.nc"), ClusterFilename("/out", NumberedFilename("herz-oper.nc", 3)))
}

func TestParseCFTime(t *testing.T) {
	tests := []struct {
		value float64
		units string
		want  time.Time
	}{
		{0, "seconds since 1970-01-01 00:00:00", time.Unix(0, 0).UTC()},
		{90, "minutes since 2014-05-12 00:00:00 UTC", time.Date(2014, 5, 12, 1, 30, 0, 0, time.UTC)},
		{1.5, "hours since 2014-05-12", time.Date(2014, 5, 12, 1, 30, 0, 0, time.UTC)},
		{2, "days since 2014-05-12T06:00:00Z", time.Date(2014, 5, 14, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseCFTime(tt.value, tt.units)
		require.NoError(t, err, tt.units)
		assert.True(t, tt.want.Equal(got), "%s: want %v got %v", tt.units, tt.want, got)
	}

	for _, bad := range []string{"", "seconds", "fortnights since 2014-01-01", "seconds since yesterday"} {
		_, err := ParseCFTime(1, bad)
		assert.Error(t, err, bad)
	}
}

func TestInspect_RejectsNonClassic(t *testing.T) {
	dir := t.TempDir()

	hdf := filepath.Join(dir, "nc4.nc")
	require.NoError(t, os.WriteFile(hdf, []byte("\x89HDF\r\n\x1a\n...."), 0644))
	_, err := Inspect(hdf, "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	junk := filepath.Join(dir, "junk.nc")
	require.NoError(t, os.WriteFile(junk, []byte("xy"), 0644))
	_, err = Inspect(junk, "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Inspect(filepath.Join(dir, "missing.nc"), "")
	assert.Error(t, err)
}

func writeClassic(t *testing.T, path string, times []float64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	h := cdf.NewHeader([]string{"time", "x"}, []int{len(times), 2})
	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "units", "seconds since 2014-05-12 00:00:00")
	h.AddVariable("RX", []string{"time", "x"}, []float32{0})
	h.AddAttribute("RX", "units", "dBZ")
	h.Define()

	nc, err := cdf.Create(f, h)
	require.NoError(t, err)

	end := nc.Header.Lengths("time")
	w := nc.Writer("time", make([]int, len(end)), end)
	_, err = w.Write(times)
	require.NoError(t, err)
}

func TestInspect_Classic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.nc")
	writeClassic(t, path, []float64{0, 300, 600})

	info, err := Inspect(path, "time")
	require.NoError(t, err)

	rx, ok := info.Variable("RX")
	require.True(t, ok)
	assert.Equal(t, []string{"time", "x"}, rx.Dimensions)
	assert.Equal(t, []int{3, 2}, rx.Lengths)
	assert.Equal(t, "dBZ", rx.Units)

	assert.Equal(t, "time", info.TimeVariable)
	assert.Equal(t, []float64{0, 300, 600}, info.Times)
	assert.Equal(t, 3, info.NumTimes())
	assert.Equal(t, "2014-05-12 00:05 UTC", info.TimeLabel(1))
	assert.Equal(t, "rx", info.TimeLabel(7), "out of range falls back to the file name")
}

func TestInspect_NoTimeVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.nc")
	writeClassic(t, path, []float64{0})

	info, err := Inspect(path, "valid_time")
	require.NoError(t, err)
	assert.Empty(t, info.TimeVariable)
	assert.Equal(t, 1, info.NumTimes())
	assert.Equal(t, "rx", info.TimeLabel(0))
}
