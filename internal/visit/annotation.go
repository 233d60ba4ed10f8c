package visit

// Annotation returns the default annotation attribute paths for 2D or 3D
// rendering: visible axes in km, legend and database info on, user and
// time info off.
func Annotation(dimensions int) map[string]any {
	a := map[string]any{
		"userInfoFlag":     0,
		"timeInfoFlag":     0,
		"legendInfoFlag":   1,
		"databaseInfoFlag": 1,
	}
	if dimensions == 2 {
		a["axes2D.visible"] = 1
		a["axes2D.autoSetScaling"] = 0
		a["axes2D.xAxis.title.visible"] = 0
		a["axes2D.yAxis.title.visible"] = 0
		a["databaseInfoFlag"] = 0
		return a
	}

	a["axes3D.visible"] = 1
	a["axes3D.autoSetScaling"] = 0
	for axis, title := range map[string]string{"xAxis": "x", "yAxis": "y", "zAxis": "h"} {
		prefix := "axes3D." + axis + ".title."
		a[prefix+"visible"] = 0
		a[prefix+"userTitle"] = 1
		a[prefix+"userUnits"] = 1
		a[prefix+"title"] = title
		a[prefix+"units"] = "km"
	}
	return a
}

// MergeAttributes returns base overlaid with overrides.
func MergeAttributes(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// BackgroundGradient is the gray to black radial canvas.
func BackgroundGradient() map[string]any {
	return map[string]any{
		"backgroundMode":          "Gradient",
		"gradientBackgroundStyle": "Radial",
		"gradientColor1":          [4]int{86, 86, 86, 255},
		"gradientColor2":          [4]int{0, 0, 0, 255},
	}
}

// DatetimeText places the date/time label in the top right corner.
func DatetimeText() map[string]any {
	return map[string]any{
		"position":                  [2]float64{0.72, 0.95},
		"height":                    0.02,
		"textColor":                 [4]int{255, 255, 255, 255},
		"useForegroundForTextColor": 0,
		"fontBold":                  1,
	}
}
