package netcdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/ctessum/cdf"
)

// ErrUnsupportedFormat is returned for files that are not NetCDF classic or
// 64-bit offset, e.g. NetCDF-4 (HDF5) files.
var ErrUnsupportedFormat = errors.New("unsupported NetCDF format")

// Variable describes one variable of a NetCDF file.
type Variable struct {
	Name       string
	Dimensions []string
	Lengths    []int
	Units      string
}

// Info is the metadata Inspect extracts.
type Info struct {
	Path      string
	Variables []Variable

	// TimeVariable is the name of the time coordinate, if one was found.
	TimeVariable string
	// Times holds the raw values of the time coordinate.
	Times []float64
	// TimeUnits is the CF units attribute, e.g. "seconds since 1970-01-01".
	TimeUnits string
}

// Variable returns the named variable.
func (i *Info) Variable(name string) (Variable, bool) {
	for _, v := range i.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

// NumTimes returns the number of time steps, at least 1.
func (i *Info) NumTimes() int {
	if len(i.Times) == 0 {
		return 1
	}
	return len(i.Times)
}

var (
	magicClassic = []byte("CDF\x01")
	magic64Bit   = []byte("CDF\x02")
	magicHDF5    = []byte("\x89HDF")
)

// Inspect reads the header of a NetCDF classic file and the values of its
// time coordinate. timeVariable names the coordinate; when empty "time" is
// tried.
func Inspect(path, timeVariable string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	switch {
	case bytes.Equal(magic, magicClassic), bytes.Equal(magic, magic64Bit):
	case bytes.Equal(magic, magicHDF5):
		return nil, fmt.Errorf("%s is NetCDF-4/HDF5: %w", path, ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	nc, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info := &Info{Path: path}
	for _, name := range nc.Header.Variables() {
		v := Variable{
			Name:       name,
			Dimensions: nc.Header.Dimensions(name),
			Lengths:    nc.Header.Lengths(name),
		}
		if units, ok := nc.Header.GetAttribute(name, "units").(string); ok {
			v.Units = units
		}
		info.Variables = append(info.Variables, v)
	}

	if timeVariable == "" {
		timeVariable = "time"
	}
	tv, ok := info.Variable(timeVariable)
	if !ok {
		return info, nil
	}
	info.TimeVariable = tv.Name
	info.TimeUnits = tv.Units

	n := 1
	for _, l := range tv.Lengths {
		n *= l
	}
	if n == 0 {
		return info, nil
	}
	buf := nc.Header.ZeroValue(tv.Name, n)
	if _, err := nc.Reader(tv.Name, nil, nil).Read(buf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read %s from %s: %w", tv.Name, path, err)
	}
	info.Times = toFloat64(buf)
	return info, nil
}

func toFloat64(values any) []float64 {
	switch vs := values.(type) {
	case []float64:
		return vs
	case []float32:
		out := make([]float64, len(vs))
		for i, v := range vs {
			out[i] = float64(v)
		}
		return out
	case []int32:
		out := make([]float64, len(vs))
		for i, v := range vs {
			out[i] = float64(v)
		}
		return out
	case []int16:
		out := make([]float64, len(vs))
		for i, v := range vs {
			out[i] = float64(v)
		}
		return out
	case []int8:
		out := make([]float64, len(vs))
		for i, v := range vs {
			out[i] = float64(v)
		}
		return out
	}
	return nil
}

// Time converts time step i into an absolute time using the CF units
// attribute ("<unit> since <reference>").
func (i *Info) Time(index int) (time.Time, error) {
	if index < 0 || index >= len(i.Times) {
		return time.Time{}, fmt.Errorf("time index %d out of range [0,%d)", index, len(i.Times))
	}
	return ParseCFTime(i.Times[index], i.TimeUnits)
}

// TimeLabel renders time step i for the date/time annotation, falling back
// to the file name when the file carries no usable time.
func (i *Info) TimeLabel(index int) string {
	t, err := i.Time(index)
	if err != nil {
		return Stem(i.Path)
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

var referenceLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseCFTime interprets value in CF units such as
// "seconds since 1970-01-01 00:00:00 UTC".
func ParseCFTime(value float64, units string) (time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return time.Time{}, fmt.Errorf("time units %q are not of the form '<unit> since <time>'", units)
	}

	var step time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "seconds", "second", "secs", "sec", "s":
		step = time.Second
	case "minutes", "minute", "mins", "min":
		step = time.Minute
	case "hours", "hour", "hrs", "hr", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return time.Time{}, fmt.Errorf("unsupported time unit %q", unit)
	}

	ref = strings.TrimSpace(ref)
	ref = strings.TrimSuffix(ref, " UTC")
	ref = strings.TrimSuffix(ref, " GMT")
	var (
		base time.Time
		err  error
	)
	for _, layout := range referenceLayouts {
		base, err = time.Parse(layout, ref)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported reference time %q", ref)
	}

	whole, frac := math.Modf(value)
	offset := time.Duration(whole)*step + time.Duration(frac*float64(step))
	return base.Add(offset).UTC(), nil
}
