package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"meanie3d/internal/config"
	"meanie3d/internal/logging"
	"meanie3d/internal/netcdf"
	"meanie3d/internal/resume"
)

// RunAll runs every scale over the time range. Scales write to separate
// output trees and run concurrently, at most jobs at a time (jobs <= 0 means
// one). Within a scale the time indices run in order. A scale that fails does
// not stop the others; their errors are joined. The merged summary is
// returned even when the context is cancelled.
func (r *Runner) RunAll(ctx context.Context, cfg *config.RunConfig, scales []string, times TimeRange, jobs int) (*Summary, error) {
	if err := times.Validate(); err != nil {
		return nil, err
	}
	if len(scales) == 0 {
		scales = []string{""}
	}
	if jobs <= 0 {
		jobs = 1
	}

	total := &Summary{}
	indices := times.Indices()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(jobs)
	for _, scale := range scales {
		g.Go(func() error {
			scfg := *cfg
			scfg.Scale = scale
			summary, err := r.RunScale(ctx, &scfg, scale, indices)
			total.Merge(summary)
			if err != nil {
				logging.TrackingError("Scale %s stopped: %v", scaleLabel(scale), err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("scale %s: %w", scaleLabel(scale), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	err := errors.Join(errs...)

	logging.Tracking("Detection/tracking done: %d processed, %d skipped, %d failed",
		total.Processed, total.Skipped, total.Failed)
	return total, err
}

// Pending reports whether RunAll would start meanie3D-detect at all. Without
// resume any source file is work; when resuming a cluster file must be
// missing for some scale and time index. Tracking only follows a detection,
// so it is pending exactly when detection is.
func Pending(cfg *config.RunConfig, scales []string, times TimeRange) (bool, error) {
	if !cfg.HasDetection() {
		return false, nil
	}
	files, err := netcdf.Glob(cfg.SourceDirectory)
	if err != nil || len(files) == 0 {
		return false, err
	}
	if !cfg.Resume {
		return true, nil
	}
	if len(scales) == 0 {
		scales = []string{""}
	}
	for _, scale := range scales {
		dir := resume.NewLayout(cfg.OutputDir, scale).NetCDFDir()
		for _, t := range times.Indices() {
			for _, file := range files {
				name := file
				if t != NoTimeIndex {
					name = netcdf.NumberedFilename(file, t)
				}
				if !resume.FileExists(netcdf.ClusterFilename(dir, name)) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}
