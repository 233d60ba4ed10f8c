package tracking

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"meanie3d/internal/config"
	"meanie3d/internal/logging"
	"meanie3d/internal/netcdf"
	"meanie3d/internal/resume"
	"meanie3d/internal/store"
	"meanie3d/internal/tactile"
)

// Tools are the resolved paths of the binaries the runner invokes.
type Tools struct {
	Detect string
	Track  string
}

// StepRecorder persists steps; *store.Ledger implements it.
type StepRecorder interface {
	RecordStep(ctx context.Context, s store.Step) error
}

// Runner sequences detection and tracking over the files of a source
// directory.
type Runner struct {
	Executor tactile.Executor
	Tools    Tools

	// Ledger and RunID are optional; when both are set every step is
	// recorded.
	Ledger StepRecorder
	RunID  string

	// Observer is optional.
	Observer Observer
}

// Run processes every file of cfg.SourceDirectory for one scale and time
// index (NoTimeIndex for none).
func (r *Runner) Run(ctx context.Context, cfg *config.RunConfig, scale string, timeIndex int) (*Summary, error) {
	return r.RunScale(ctx, cfg, scale, []int{timeIndex})
}

// RunScale prepares the output tree of one scale once, then processes the
// time indices in order. Each time index is an independent chain of files.
//
// A file whose cluster file already exists is skipped when resuming. A
// failing tool fails that file only: the failure is recorded and the chain
// carries on with the last successful cluster file as the previous one.
func (r *Runner) RunScale(ctx context.Context, cfg *config.RunConfig, scale string, timeIndices []int) (*Summary, error) {
	if !cfg.HasDetection() {
		return &Summary{}, nil
	}

	layout := resume.NewLayout(cfg.OutputDir, scale)
	if err := resume.Prepare(layout, cfg.Resume); err != nil {
		return nil, err
	}

	files, err := netcdf.Glob(cfg.SourceDirectory)
	if err != nil {
		return nil, err
	}

	detectParams, err := tactile.SplitArgs(cfg.Detection.Params)
	if err != nil {
		return nil, fmt.Errorf("detection parameters: %w", err)
	}
	var trackParams []string
	if cfg.HasTracking() {
		if trackParams, err = tactile.SplitArgs(cfg.Tracking.Params); err != nil {
			return nil, fmt.Errorf("tracking parameters: %w", err)
		}
	}

	seq := &sequence{
		runner:       r,
		cfg:          cfg,
		layout:       layout,
		scale:        scale,
		files:        files,
		detectParams: detectParams,
		trackParams:  trackParams,
		summary:      &Summary{},
	}

	timer := logging.StartTimer(logging.CategoryTracking, "scale "+scaleLabel(scale))
	defer timer.StopWithInfo()

	for _, t := range timeIndices {
		if err := seq.run(ctx, t); err != nil {
			return seq.summary, err
		}
	}
	return seq.summary, nil
}

// sequence is the state of one scale.
type sequence struct {
	runner       *Runner
	cfg          *config.RunConfig
	layout       resume.Layout
	scale        string
	files        []string
	detectParams []string
	trackParams  []string
	summary      *Summary
}

func (s *sequence) run(ctx context.Context, timeIndex int) error {
	logging.Tracking("Scale %s: %d files, time index %d", scaleLabel(s.scale), len(s.files), timeIndex)

	previous := ""
	for i, file := range s.files {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := file
		if timeIndex != NoTimeIndex {
			name = netcdf.NumberedFilename(file, timeIndex)
		}
		cluster := netcdf.ClusterFilename(s.layout.NetCDFDir(), name)
		ev := Event{Scale: s.scale, TimeIndex: timeIndex, File: file, Index: i, Total: len(s.files), Stage: StageDetect}

		if s.cfg.Resume && resume.FileExists(cluster) {
			logging.TrackingDebug("Skipping %s, %s exists", filepath.Base(file), filepath.Base(cluster))
			s.summary.skipped()
			s.emit(ev, StatusSkipped, nil)
			s.record(ctx, store.Step{Stage: StageDetect, Input: file, Output: cluster, Status: StatusSkipped})
			previous = cluster
			continue
		}

		s.emit(ev, StatusRunning, nil)
		res, err := s.detect(ctx, file, cluster, previous, timeIndex)
		if err := s.finish(ctx, ev, file, cluster, res, err); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		if s.cfg.HasTracking() && !s.cfg.TrackingInline() && previous != "" {
			tev := ev
			tev.Stage = StageTrack
			s.emit(tev, StatusRunning, nil)
			res, err := s.track(ctx, file, previous, cluster, timeIndex)
			if err := s.finish(ctx, tev, file, cluster, res, err); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
		}
		previous = cluster
	}
	return nil
}

func (s *sequence) detect(ctx context.Context, file, cluster, previous string, timeIndex int) (*tactile.ExecutionResult, error) {
	args := []string{"-f", file, "-o", cluster}
	args = append(args, s.detectParams...)
	if s.scale != "" {
		args = append(args, "-s", s.scale)
	}
	if timeIndex != NoTimeIndex {
		args = append(args, "--time-index", strconv.Itoa(timeIndex))
	}
	if s.cfg.TrackingInline() && previous != "" {
		args = append(args, "-p", previous)
	}
	return s.execute(ctx, s.runner.Tools.Detect, args, logStem(file, timeIndex), StageDetect, file)
}

func (s *sequence) track(ctx context.Context, file, previous, current string, timeIndex int) (*tactile.ExecutionResult, error) {
	args := []string{"--previous", previous, "--current", current}
	args = append(args, s.trackParams...)
	return s.execute(ctx, s.runner.Tools.Track, args, logStem(file, timeIndex), StageTrack, file)
}

// logStem names the per-file logs, <log>/<stem>-<stage>.log.
func logStem(file string, timeIndex int) string {
	if timeIndex == NoTimeIndex {
		return netcdf.Stem(file)
	}
	return netcdf.Stem(netcdf.NumberedFilename(file, timeIndex))
}

func (s *sequence) execute(ctx context.Context, binary string, args []string, stem, stage, input string) (*tactile.ExecutionResult, error) {
	return s.runner.Executor.Execute(ctx, tactile.Command{
		Binary:           binary,
		Arguments:        args,
		WorkingDirectory: s.layout.Base(),
		LogFile:          filepath.Join(s.layout.LogDir(), stem+"-"+stage+".log"),
		Tags: map[string]string{
			"scale": s.scale,
			"stage": stage,
			"input": filepath.Base(input),
		},
	})
}

// finish reports the outcome of one tool run and returns its error, if any.
func (s *sequence) finish(ctx context.Context, ev Event, file, cluster string, res *tactile.ExecutionResult, err error) error {
	if err == nil && res.Failed() {
		err = res.Err()
	}

	step := store.Step{Stage: ev.Stage, Input: file, Output: cluster, Status: StatusSucceeded}
	if res != nil {
		step.ExitCode = res.ExitCode
		step.DurationMs = res.Duration.Milliseconds()
	}

	if err != nil {
		logging.TrackingError("%s failed for %s: %v", ev.Stage, filepath.Base(file), err)
		s.summary.failed(Failure{Scale: s.scale, TimeIndex: ev.TimeIndex, File: file, Stage: ev.Stage, Err: err})
		s.emit(ev, StatusFailed, err)
		step.Status = StatusFailed
		step.Message = err.Error()
		s.record(ctx, step)
		return err
	}

	s.summary.processed()
	s.emit(ev, StatusSucceeded, nil)
	s.record(ctx, step)
	return nil
}

func (s *sequence) emit(ev Event, status string, err error) {
	if s.runner.Observer == nil {
		return
	}
	ev.Status = status
	ev.Err = err
	s.runner.Observer(ev)
}

func (s *sequence) record(ctx context.Context, step store.Step) {
	if s.runner.Ledger == nil || s.runner.RunID == "" {
		return
	}
	step.RunID = s.runner.RunID
	step.Scale = s.scale
	// A cancelled context must not lose the record of what already happened.
	if err := s.runner.Ledger.RecordStep(context.WithoutCancel(ctx), step); err != nil {
		logging.StoreWarn("Failed to record %s step for %s: %v", step.Stage, filepath.Base(step.Input), err)
	}
}

func scaleLabel(scale string) string {
	if scale == "" {
		return "(default)"
	}
	return scale
}
