// Package postprocessing runs the steps that follow detection and tracking:
// track statistics and the cluster visualisation of every scale.
package postprocessing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"meanie3d/internal/config"
	"meanie3d/internal/logging"
	"meanie3d/internal/report"
	"meanie3d/internal/resume"
	"meanie3d/internal/store"
	"meanie3d/internal/tactile"
	"meanie3d/internal/visualise"
)

// ReportName is the contact sheet written to the tracks directory when
// postprocessing.tracks.plot is set.
const ReportName = "report.pdf"

// Postprocessor runs the postprocessing section of a run configuration.
type Postprocessor struct {
	Executor   tactile.Executor
	TrackStats string

	// Visualiser is copied per scale; nil disables visualisation.
	Visualiser *visualise.Visualiser

	Ledger visualise.StepRecorder
	RunID  string
}

// Result is what postprocessing did for one scale.
type Result struct {
	Scale         string
	Tracks        bool
	Report        string
	Visualisation *visualise.Summary
}

// Run processes each scale in turn. A failing step does not stop the
// remaining ones; all failures are returned joined.
func (p *Postprocessor) Run(ctx context.Context, cfg *config.RunConfig, scales []string) ([]Result, error) {
	if !cfg.HasPostprocessing() {
		return nil, nil
	}
	if len(scales) == 0 {
		scales = []string{""}
	}

	clusters, err := visualise.FromRunConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		results []Result
		errs    []error
	)
	for _, scale := range scales {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		layout := resume.NewLayout(cfg.OutputDir, scale)
		res := Result{Scale: scale}

		if tracks := cfg.Postprocessing.Tracks; tracks != nil {
			if err := p.trackStats(ctx, layout, tracks.Params); err != nil {
				errs = append(errs, err)
			} else {
				res.Tracks = true
			}
		}

		if clusters != nil && p.Visualiser != nil {
			summary, err := p.visualise(ctx, cfg, clusters, layout, scale)
			res.Visualisation = summary
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("visualisation of %s: %w", layout.Base(), err))
			case summary != nil && summary.Err() != nil:
				errs = append(errs, fmt.Errorf("visualisation of %s: %w", layout.Base(), summary.Err()))
			}
		}

		if tracks := cfg.Postprocessing.Tracks; tracks != nil && tracks.Plot {
			out := filepath.Join(layout.TracksDir(), ReportName)
			err := report.Build(layout.VisualisationDir(), out, report.Options{
				Title:       "meanie3d " + scaleTitle(scale),
				Description: cfg.Description,
			})
			switch {
			case errors.Is(err, report.ErrNoImages):
				logging.TrackingWarn("No images for the report of %s", layout.Base())
			case err != nil:
				errs = append(errs, err)
			default:
				res.Report = out
			}
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// trackStats runs meanie3D-trackstats over the cluster files of a scale.
func (p *Postprocessor) trackStats(ctx context.Context, layout resume.Layout, params string) error {
	dir := layout.TracksDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	args, err := tactile.SplitArgs(params)
	if err != nil {
		return fmt.Errorf("track statistics parameters: %w", err)
	}
	args = append(args, "-s", layout.NetCDFDir())

	logging.Tracking("Running track statistics for %s", layout.Base())
	res, err := p.Executor.Execute(ctx, tactile.Command{
		Binary:           p.TrackStats,
		Arguments:        args,
		WorkingDirectory: dir,
		LogFile:          filepath.Join(layout.LogDir(), "trackstats.log"),
		Tags:             map[string]string{"stage": "trackstats", "scale": layout.Scale},
	})
	step := store.Step{Scale: layout.Scale, Stage: "trackstats", Input: layout.NetCDFDir(), Output: dir, Status: store.StatusSucceeded}
	if err == nil && res.Failed() {
		err = res.Err()
	}
	if res != nil {
		step.ExitCode = res.ExitCode
		step.DurationMs = res.Duration.Milliseconds()
	}
	if err != nil {
		step.Status = store.StatusFailed
		step.Message = err.Error()
		err = fmt.Errorf("track statistics of %s: %w", layout.Base(), err)
		logging.TrackingError("%v", err)
	}
	p.record(ctx, step)
	return err
}

func (p *Postprocessor) visualise(ctx context.Context, run *config.RunConfig, clusters *visualise.Config, layout resume.Layout, scale string) (*visualise.Summary, error) {
	cfg := *clusters
	cfg.SourceDirectory = run.SourceDirectory
	cfg.ClusterDirectory = layout.NetCDFDir()
	cfg.OutputDir = layout.VisualisationDir()
	cfg.Resume = run.Resume

	v := *p.Visualiser
	v.Ledger, v.RunID, v.Scale = p.Ledger, p.RunID, scale
	logging.Visualise("Visualising %s", layout.Base())
	return v.Run(ctx, &cfg)
}

func (p *Postprocessor) record(ctx context.Context, step store.Step) {
	if p.Ledger == nil || p.RunID == "" {
		return
	}
	step.RunID = p.RunID
	if err := p.Ledger.RecordStep(context.WithoutCancel(ctx), step); err != nil {
		logging.StoreWarn("Failed to record %s step: %v", step.Stage, err)
	}
}

func scaleTitle(scale string) string {
	if scale == "" {
		return "clustering"
	}
	return "scale " + scale
}
