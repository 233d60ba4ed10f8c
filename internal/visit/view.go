package visit

import (
	"fmt"

	"meanie3d/internal/keypath"
)

// Grid extents of the RADOLAN composite.
const (
	ExtentLocal    = "local"
	ExtentNational = "national"
)

// View3D is VisIt's View3DAttributes. Field names follow the json tags so
// perspective dictionaries written against VisIt's names apply directly.
type View3D struct {
	ViewNormal          [3]float64 `json:"viewNormal"`
	Focus               [3]float64 `json:"focus"`
	ViewUp              [3]float64 `json:"viewUp"`
	ViewAngle           float64    `json:"viewAngle"`
	ParallelScale       float64    `json:"parallelScale"`
	NearPlane           float64    `json:"nearPlane"`
	FarPlane            float64    `json:"farPlane"`
	ImagePan            [2]float64 `json:"imagePan"`
	ImageZoom           float64    `json:"imageZoom"`
	Perspective         int        `json:"perspective"`
	EyeAngle            float64    `json:"eyeAngle"`
	CenterOfRotationSet int        `json:"centerOfRotationSet"`
	CenterOfRotation    [3]float64 `json:"centerOfRotation"`
	Axis3DScaleFlag     int        `json:"axis3DScaleFlag"`
	Axis3DScales        [3]float64 `json:"axis3DScales"`
	Shear               [3]float64 `json:"shear"`
}

// RadolanLocal is the camera for the local (Bonn area) RADOLAN grid.
func RadolanLocal() View3D {
	return View3D{
		ViewNormal:       [3]float64{0.204365, -0.63669, 0.743546},
		Focus:            [3]float64{-239.212, -4222.9, 7.31354},
		ViewUp:           [3]float64{-0.201314, 0.716005, 0.668438},
		ViewAngle:        30,
		ParallelScale:    173.531,
		NearPlane:        -347.062,
		FarPlane:         347.062,
		ImagePan:         [2]float64{-0.00977129, 0.0399963},
		ImageZoom:        1.4641,
		Perspective:      1,
		EyeAngle:         2,
		CenterOfRotation: [3]float64{0, 0, 0},
		Axis3DScales:     [3]float64{1, 1, 1},
		Shear:            [3]float64{0, 0, 1},
	}
}

// RadolanNational is the camera for the national RADOLAN composite.
func RadolanNational() View3D {
	return View3D{
		ViewNormal:       [3]float64{0.0244371, -0.668218, 0.743564},
		Focus:            [3]float64{-73.9622, -4209.15, 7.31354},
		ViewUp:           [3]float64{0.00033399, 0.743792, 0.668411},
		ViewAngle:        30,
		ParallelScale:    636.44,
		NearPlane:        -1272.88,
		FarPlane:         1272.88,
		ImagePan:         [2]float64{0.00341995, 0.049739},
		ImageZoom:        1.21,
		Perspective:      1,
		EyeAngle:         2,
		CenterOfRotation: [3]float64{0, 0, 0},
		Axis3DScales:     [3]float64{1, 1, 1},
		Shear:            [3]float64{0, 0, 1},
	}
}

// RadolanView returns the camera for a grid extent.
func RadolanView(extent string) (View3D, error) {
	switch extent {
	case ExtentLocal:
		return RadolanLocal(), nil
	case "", ExtentNational:
		return RadolanNational(), nil
	}
	return View3D{}, fmt.Errorf("unknown grid extent %q (want %s or %s)", extent, ExtentLocal, ExtentNational)
}

// WithScaleZ stretches the z axis when f is not 1.
func (v View3D) WithScaleZ(f float64) View3D {
	if f != 0 && f != 1 {
		v.Axis3DScaleFlag = 1
		v.Axis3DScales = [3]float64{1, 1, f}
	}
	return v
}

// Attributes returns the view as VisIt attribute assignments.
func (v View3D) Attributes() map[string]any {
	return map[string]any{
		"viewNormal":          v.ViewNormal,
		"focus":               v.Focus,
		"viewUp":              v.ViewUp,
		"viewAngle":           v.ViewAngle,
		"parallelScale":       v.ParallelScale,
		"nearPlane":           v.NearPlane,
		"farPlane":            v.FarPlane,
		"imagePan":            v.ImagePan,
		"imageZoom":           v.ImageZoom,
		"perspective":         v.Perspective,
		"eyeAngle":            v.EyeAngle,
		"centerOfRotationSet": v.CenterOfRotationSet,
		"centerOfRotation":    v.CenterOfRotation,
		"axis3DScaleFlag":     v.Axis3DScaleFlag,
		"axis3DScales":        v.Axis3DScales,
		"shear":               v.Shear,
	}
}

// View2D is VisIt's View2DAttributes.
type View2D struct {
	WindowCoords   [4]float64 `json:"windowCoords"`
	ViewportCoords [4]float64 `json:"viewportCoords"`
}

// RadolanView2D returns the 2D window for a grid extent, in km of the
// polar stereographic RADOLAN projection.
func RadolanView2D(extent string) (View2D, error) {
	viewport := [4]float64{0.1, 0.95, 0.1, 0.95}
	switch extent {
	case ExtentLocal:
		return View2D{
			WindowCoords:   [4]float64{-339.212, -139.212, -4322.9, -4122.9},
			ViewportCoords: viewport,
		}, nil
	case "", ExtentNational:
		return View2D{
			WindowCoords:   [4]float64{-523.4622, 376.5378, -4658.645, -3758.645},
			ViewportCoords: viewport,
		}, nil
	}
	return View2D{}, fmt.Errorf("unknown grid extent %q (want %s or %s)", extent, ExtentLocal, ExtentNational)
}

// Attributes returns the view as VisIt attribute assignments.
func (v View2D) Attributes() map[string]any {
	return map[string]any{
		"windowCoords":   v.WindowCoords,
		"viewportCoords": v.ViewportCoords,
	}
}

// Perspective is a set of camera overrides, keyed by View3D attribute name,
// used to render the same scene from another viewpoint.
type Perspective map[string]any

// Apply returns base with the overrides applied, followed by the z scaling.
func (p Perspective) Apply(base View3D, scaleZ float64) (View3D, error) {
	v := base
	if err := keypath.SetValues(&v, p); err != nil {
		return View3D{}, fmt.Errorf("invalid perspective: %w", err)
	}
	return v.WithScaleZ(scaleZ), nil
}
