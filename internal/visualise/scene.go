package visualise

import (
	"fmt"
	"path/filepath"

	"meanie3d/internal/resume"
	"meanie3d/internal/visit"
)

// Variables VisIt plots from the converted meshes.
const (
	clusterVariable      = "point_color"
	centerVariable       = "geometrical_center"
	displacementVariable = "displacement"
)

// sourceBackgroundOpacity is used for source plots drawn behind clusters.
const sourceBackgroundOpacity = 0.25

// Script builds the VisIt script rendering frames.
func Script(cfg *Config, frames []*frame) (*visit.Script, error) {
	s := visit.NewScript()
	r := &renderer{cfg: cfg, s: s}
	if err := r.resolveViews(); err != nil {
		return nil, err
	}

	annotation := visit.MergeAttributes(visit.Annotation(cfg.Dimensions), cfg.Annotation)
	if cfg.WithBackgroundGradient {
		annotation = visit.MergeAttributes(annotation, visit.BackgroundGradient())
	}
	s.SetAnnotation(annotation)
	s.ColorTable(visit.ClusterColors(visit.DefaultClusterColorCount))
	if cfg.WithTopography {
		s.ColorTable(visit.Topography())
	}

	for _, fr := range frames {
		s.Comment(fmt.Sprintf("frame %04d: %s", fr.index, filepath.Base(fr.file)))
		s.Print(fmt.Sprintf("Rendering frame %04d", fr.index))
		if fr.source {
			r.sourceScene(fr)
		}
		if fr.tracking {
			r.trackingScene(fr)
		}
	}
	s.CloseComputeEngine()
	s.Quit()
	return s, nil
}

type renderer struct {
	cfg *Config
	s   *visit.Script

	base  visit.View3D
	flat  visit.View2D
	views []visit.View3D
}

// resolveViews resolves the default camera and the perspectives.
func (r *renderer) resolveViews() error {
	if r.cfg.Dimensions == 2 {
		view, err := visit.RadolanView2D(r.cfg.GridExtent)
		r.flat = view
		return err
	}
	view, err := visit.RadolanView(r.cfg.GridExtent)
	if err != nil {
		return err
	}
	r.base = view.WithScaleZ(r.cfg.ScaleFactorZ)
	for i, p := range r.cfg.Perspectives {
		v, err := p.Apply(view, r.cfg.ScaleFactorZ)
		if err != nil {
			return fmt.Errorf("perspective %d: %w", i+1, err)
		}
		r.views = append(r.views, v)
	}
	return nil
}

func (r *renderer) sourceScene(fr *frame) {
	r.topography()
	for i := range r.cfg.Variables {
		r.source(fr.file, r.cfg.Source(i), 0)
	}
	r.finish(fr, KindSource, []string{fr.file})
}

func (r *renderer) trackingScene(fr *frame) {
	r.topography()
	opened := []string{}
	if r.cfg.WithSourceBackground {
		for i := range r.cfg.Variables {
			r.source(fr.file, r.cfg.Source(i), sourceBackgroundOpacity)
		}
		opened = append(opened, fr.file)
	}

	plot := visit.ClusterPlot(visit.ClusterColorTable, visit.DefaultClusterColorCount, r.cfg.ClusterOpacity)
	for _, cluster := range fr.clusters {
		r.s.Pseudocolor(cluster, clusterVariable, plot, r.cfg.Plot)
	}
	if fr.centers != "" {
		r.s.Labels(fr.centers, centerVariable)
		opened = append(opened, fr.centers)
	}
	if fr.displacement != "" && r.cfg.WithDisplacementVectors {
		r.s.Vectors(fr.displacement, displacementVariable, nil)
		opened = append(opened, fr.displacement)
	}
	r.finish(fr, KindTracking, opened)
	if fr.vtkDir != "" {
		r.s.ClosePattern(filepath.Join(fr.vtkDir, "*.vt*"))
	}
}

func (r *renderer) topography() {
	if !r.cfg.WithTopography {
		return
	}
	r.s.Pseudocolor(r.cfg.TopographyFile, r.cfg.TopographyVariable, map[string]any{
		"colorTableName": visit.TopographyColorTable,
		"legendFlag":     0,
		"lightingFlag":   0,
	}, nil)
}

// source plots one variable; opacity overrides the configured one when set.
func (r *renderer) source(file string, v SourceVariable, opacity float64) {
	if opacity <= 0 {
		opacity = v.Opacity
	}
	plot := visit.SourcePlot(v.ColorTable, v.Min, v.Max, opacity, v.Invert)
	if !v.HasRange {
		plot["minFlag"] = 0
		plot["maxFlag"] = 0
	}
	r.s.Pseudocolor(file, v.Name, plot, nil)
	if v.Threshold {
		r.s.ThresholdOperator(v.Lower, v.Upper)
	}
}

// finish draws the scene, saves one image per perspective and clears the
// window for the next scene.
func (r *renderer) finish(fr *frame, kind string, opened []string) {
	s := r.s
	if r.cfg.WithDatetime && fr.label != "" {
		s.Text2D(fr.label, visit.DatetimeText())
	}
	s.DrawPlots()

	dir := r.cfg.OutputDir
	switch {
	case r.cfg.Dimensions == 2:
		s.SetView2D(r.flat)
		s.SaveWindow(dir, resume.ImageName(0, kind, fr.index))
	case len(r.views) == 0:
		s.SetView3D(r.base)
		s.SaveWindow(dir, resume.ImageName(0, kind, fr.index))
	default:
		for i, view := range r.views {
			s.SetView3D(view)
			s.SaveWindow(dir, resume.ImageName(i+1, kind, fr.index))
		}
		s.SetView3D(r.base)
	}

	s.DeleteAllPlots()
	s.Call("DeleteAllAnnotationObjects")
	s.ClearWindow()
	for _, db := range opened {
		s.CloseDatabase(db)
	}
	if r.cfg.WithTopography {
		s.CloseDatabase(r.cfg.TopographyFile)
	}
}
