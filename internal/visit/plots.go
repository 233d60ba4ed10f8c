package visit

// ClusterPlot returns the pseudocolor defaults for one cluster: small
// unlit points coloured by point_color through the cluster colour table.
func ClusterPlot(colorTable string, colorCount int, opacity float64) map[string]any {
	if opacity <= 0 {
		opacity = 1
	}
	return map[string]any{
		"pointSizePixels":  2,
		"legendFlag":       0,
		"lightingFlag":     0,
		"invertColorTable": 0,
		"minFlag":          1,
		"maxFlag":          1,
		"min":              0,
		"max":              colorCount,
		"colorTableName":   colorTable,
		"opacity":          opacity,
	}
}

// SourcePlot returns the pseudocolor defaults for a source variable.
func SourcePlot(colorTable string, min, max, opacity float64, invert bool) map[string]any {
	if opacity <= 0 {
		opacity = 1
	}
	return map[string]any{
		"colorTableName":   colorTable,
		"minFlag":          1,
		"maxFlag":          1,
		"min":              min,
		"max":              max,
		"invertColorTable": invert,
		"opacity":          opacity,
		"legendFlag":       1,
	}
}

// Threshold returns the threshold operator bounds.
func Threshold(lower, upper float64) map[string]any {
	return map[string]any{
		"lowerBounds": []float64{lower},
		"upperBounds": []float64{upper},
	}
}

// VectorPlot returns the defaults for displacement vectors.
func VectorPlot() map[string]any {
	return map[string]any{
		"useStride":        1,
		"stride":           1,
		"scale":            1.0,
		"scaleByMagnitude": 0,
		"autoScale":        0,
		"headOn":           1,
		"useLegend":        0,
	}
}

// LabelPlot returns the defaults for cluster centre labels.
func LabelPlot() map[string]any {
	return map[string]any{
		"legendFlag":  0,
		"textHeight1": 0.03,
	}
}

// Pseudocolor adds a pseudocolor plot of variable from db.
func (s *Script) Pseudocolor(db, variable string, defaults, overrides map[string]any) *Script {
	s.OpenDatabase(db)
	s.AddPlot("Pseudocolor", variable)
	v := s.Attributes("pc", "PseudocolorAttributes", defaults, overrides)
	return s.SetPlotOptions(v)
}

// ThresholdOperator adds a threshold operator to the active plot.
func (s *Script) ThresholdOperator(lower, upper float64) *Script {
	s.AddOperator("Threshold")
	v := s.Attributes("threshold", "ThresholdAttributes", Threshold(lower, upper), nil)
	return s.SetOperatorOptions(v)
}

// Vectors adds a vector plot of variable from db.
func (s *Script) Vectors(db, variable string, overrides map[string]any) *Script {
	s.OpenDatabase(db)
	s.AddPlot("Vector", variable)
	v := s.Attributes("vec", "VectorAttributes", VectorPlot(), overrides)
	return s.SetPlotOptions(v)
}

// Labels adds a label plot of variable from db.
func (s *Script) Labels(db, variable string) *Script {
	s.OpenDatabase(db)
	s.AddPlot("Label", variable)
	v := s.Attributes("labels", "LabelAttributes", LabelPlot(), nil)
	return s.SetPlotOptions(v)
}
