package visit

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Names of the colour tables the visualisation defines.
const (
	ClusterColorTable    = "cluster_colors"
	TopographyColorTable = "topography"
)

// DefaultClusterColorCount is the size of the cluster colour table. Cluster
// ids are mapped onto it modulo its size by the point_color variable.
const DefaultClusterColorCount = 32

// ColorTable is a named list of control points, evenly spaced.
type ColorTable struct {
	Name     string
	Colors   []color.RGBA
	Discrete bool
}

// ClusterColors returns n distinct, fully saturated colours. Hues are spaced
// by the golden angle so neighbouring cluster ids get dissimilar colours,
// and the sequence is the same on every run.
func ClusterColors(n int) ColorTable {
	const goldenAngle = 137.50776405003785
	colors := make([]color.RGBA, n)
	for i := range colors {
		hue := math.Mod(float64(i)*goldenAngle, 360)
		value := 1.0
		if i%2 == 1 {
			value = 0.8
		}
		colors[i] = hsv(hue, 0.85, value)
	}
	return ColorTable{Name: ClusterColorTable, Colors: colors, Discrete: true}
}

// Topography is a green to brown to white elevation table.
func Topography() ColorTable {
	return ColorTable{
		Name: TopographyColorTable,
		Colors: []color.RGBA{
			{R: 26, G: 102, B: 46, A: 255},
			{R: 89, G: 148, B: 64, A: 255},
			{R: 181, G: 176, B: 99, A: 255},
			{R: 140, G: 98, B: 57, A: 255},
			{R: 110, G: 80, B: 60, A: 255},
			{R: 240, G: 240, B: 240, A: 255},
		},
	}
}

func hsv(h, s, v float64) color.RGBA {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to8 := func(f float64) uint8 { return uint8(math.Round((f + m) * 255)) }
	return color.RGBA{R: to8(r), G: to8(g), B: to8(b), A: 255}
}

// ClusterNumber extracts the cluster id from a converted cluster file name:
// the integer between infix and the following ".v" (".vtk", ".vtr").
func ClusterNumber(filename, infix string) (int, error) {
	start := strings.Index(filename, infix)
	if start < 0 {
		return 0, fmt.Errorf("illegal filename %s: no %q", filename, infix)
	}
	start += len(infix)
	end := strings.Index(filename[start:], ".v")
	if end < 0 {
		return 0, fmt.Errorf("illegal filename %s: no .v extension", filename)
	}
	n, err := strconv.Atoi(filename[start : start+end])
	if err != nil {
		return 0, fmt.Errorf("illegal filename %s: %w", filename, err)
	}
	return n, nil
}
