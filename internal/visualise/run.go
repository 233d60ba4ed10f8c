package visualise

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"meanie3d/internal/logging"
	"meanie3d/internal/movie"
	"meanie3d/internal/netcdf"
	"meanie3d/internal/resume"
	"meanie3d/internal/store"
	"meanie3d/internal/tactile"
	"meanie3d/internal/visit"
)

// Image series rendered per frame.
const (
	KindSource   = "source"
	KindTracking = "tracking"
)

// Infix of converted cluster meshes, <stem>-clusters_cluster_<id>.vtr.
const clusterInfix = "_cluster_"

// DefaultBatchSize is the number of frames one VisIt process renders.
const DefaultBatchSize = 100

// ErrFramesFailed is returned by Summary.Err when frames could not be
// rendered.
var ErrFramesFailed = errors.New("one or more frames failed")

// StepRecorder persists steps; *store.Ledger implements it.
type StepRecorder interface {
	RecordStep(ctx context.Context, s store.Step) error
}

// Visualiser renders frames and movies.
type Visualiser struct {
	Executor tactile.Executor
	Host     *visit.Host

	// Converter is the meanie3D-cfm2vtk executable.
	Converter string

	Movies *movie.Maker

	// BatchSize applies when the configuration sets none.
	BatchSize int

	// MovieFormats apply when the configuration lists none.
	MovieFormats []string

	// Optional ledger recording.
	Ledger StepRecorder
	RunID  string
	Scale  string
}

// Summary counts what a visualisation run did.
type Summary struct {
	Frames   int
	Rendered int
	Skipped  int
	Failed   int
	Movies   []string
	Failures []string
}

// Err returns ErrFramesFailed when any frame failed.
func (s *Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d (%s)", ErrFramesFailed, s.Failed, s.Frames, strings.Join(s.Failures, "; "))
}

// frame is one source file with its cluster file.
type frame struct {
	index   int
	file    string
	cluster string
	label   string

	source   bool
	tracking bool

	vtkDir       string
	clusters     []string
	centers      string
	displacement string
}

// Run renders every frame that is not complete yet, then assembles the
// movies and organises the output directory.
func (v *Visualiser) Run(ctx context.Context, cfg *Config) (*Summary, error) {
	if cfg.SourceDirectory == "" || cfg.OutputDir == "" || cfg.ClusterDirectory == "" {
		return nil, fmt.Errorf("source, output and cluster directories are required")
	}
	out := cfg.OutputDir
	if err := os.MkdirAll(out, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", out, err)
	}
	if err := prepare(out, cfg.Resume); err != nil {
		return nil, err
	}

	frames, err := v.frames(cfg)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Frames: len(frames)}

	var pending []*frame
	for _, fr := range frames {
		if v.plan(cfg, fr, summary) {
			pending = append(pending, fr)
		}
	}

	size := cfg.BatchSize
	if size <= 0 {
		size = v.BatchSize
	}
	if size <= 0 {
		size = DefaultBatchSize
	}

	for start := 0; start < len(pending); start += size {
		end := min(start+size, len(pending))
		if err := v.batch(ctx, cfg, pending[start:end], summary); err != nil {
			return summary, err
		}
	}

	if err := v.movies(ctx, cfg, summary); err != nil {
		return summary, err
	}
	if err := movie.Organise(out); err != nil {
		return summary, err
	}

	logging.Visualise("Visualisation done: %d frames, %d rendered, %d skipped, %d failed, %d movies",
		summary.Frames, summary.Rendered, summary.Skipped, summary.Failed, len(summary.Movies))
	return summary, nil
}

// prepare clears results of previous runs. When resuming, images organised
// into images/ by a previous run are moved back so frames and movies are
// assembled from one place; only intermediary files are removed.
func prepare(out string, resuming bool) error {
	if !resuming {
		logging.Visualise("Removing results from previous runs")
		for _, dir := range []string{movie.ImagesDir, movie.MoviesDir} {
			if err := os.RemoveAll(filepath.Join(out, dir)); err != nil {
				return err
			}
		}
	} else {
		images := filepath.Join(out, movie.ImagesDir)
		entries, err := os.ReadDir(images)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		for _, e := range entries {
			if err := os.Rename(filepath.Join(images, e.Name()), filepath.Join(out, e.Name())); err != nil {
				return err
			}
		}
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(out, name)
		switch {
		case e.IsDir() && strings.HasPrefix(name, "vtk-"):
			err = os.RemoveAll(path)
		case e.IsDir():
			continue
		case movie.IsIntermediary(name):
			err = os.Remove(path)
		case !resuming && strings.HasSuffix(name, ".png"):
			err = os.Remove(path)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// frames lists the source files that have a cluster file, numbered in
// order. Files without clusters are skipped and take no number.
func (v *Visualiser) frames(cfg *Config) ([]*frame, error) {
	files, err := netcdf.Glob(cfg.SourceDirectory)
	if err != nil {
		return nil, err
	}

	var frames []*frame
	for _, file := range files {
		cluster := netcdf.ClusterFilename(cfg.ClusterDirectory, file)
		if !resume.FileExists(cluster) {
			logging.VisualiseDebug("No cluster file for %s, skipping", filepath.Base(file))
			continue
		}
		fr := &frame{index: len(frames), file: file, cluster: cluster}
		if cfg.WithDatetime {
			fr.label = netcdf.Stem(file)
			if info, err := netcdf.Inspect(file, cfg.TimeVariable); err == nil {
				fr.label = info.TimeLabel(0)
			} else {
				logging.VisualiseWarn("No time for %s: %v", filepath.Base(file), err)
			}
		}
		frames = append(frames, fr)
	}
	return frames, nil
}

// plan decides which series of a frame need rendering. Complete series are
// skipped; partial ones are deleted and rendered again.
func (v *Visualiser) plan(cfg *Config, fr *frame, summary *Summary) bool {
	check := func(kind string) bool {
		switch resume.ImagesExist(cfg.OutputDir, kind, fr.index, cfg.NumPerspectives()) {
		case resume.All:
			logging.VisualiseDebug("%s frame %04d exists, skipping", kind, fr.index)
			return false
		case resume.Partial:
			logging.Visualise("Deleting partial %s frame %04d", kind, fr.index)
			if err := resume.DeleteImages(cfg.OutputDir, kind, fr.index, cfg.NumPerspectives()); err != nil {
				logging.VisualiseWarn("Failed to delete partial frame: %v", err)
			}
		}
		return true
	}

	fr.source = bool(cfg.CreateSourceMovie) && check(KindSource)
	fr.tracking = bool(cfg.CreateClustersMovie) && check(KindTracking)
	if !fr.source && !fr.tracking {
		summary.Skipped++
		return false
	}
	return true
}

// batch converts the clusters of a group of frames and renders them with a
// single VisIt process.
func (v *Visualiser) batch(ctx context.Context, cfg *Config, frames []*frame, summary *Summary) error {
	for _, fr := range frames {
		if !fr.tracking {
			continue
		}
		if err := v.convert(ctx, cfg, fr); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.VisualiseWarn("Conversion of %s failed: %v", filepath.Base(fr.cluster), err)
			summary.Failed++
			summary.Failures = append(summary.Failures, fmt.Sprintf("%s: %v", filepath.Base(fr.cluster), err))
			fr.tracking = false
		}
	}

	var work []*frame
	for _, fr := range frames {
		if fr.source || fr.tracking {
			work = append(work, fr)
		}
	}
	defer func() {
		for _, fr := range frames {
			if fr.vtkDir != "" {
				os.RemoveAll(fr.vtkDir)
			}
		}
	}()
	if len(work) == 0 {
		return nil
	}

	script, err := Script(cfg, work)
	if err != nil {
		return err
	}

	first, last := work[0].index, work[len(work)-1].index
	res, err := v.Host.Run(ctx, script, cfg.OutputDir)
	step := store.Step{
		Stage:  "render",
		Input:  fmt.Sprintf("frames %04d-%04d", first, last),
		Output: cfg.OutputDir,
		Status: store.StatusSucceeded,
	}
	if res != nil {
		step.ExitCode = res.ExitCode
		step.DurationMs = res.Duration.Milliseconds()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		summary.Failed += len(work)
		summary.Failures = append(summary.Failures, fmt.Sprintf("frames %04d-%04d: %v", first, last, err))
		step.Status = store.StatusFailed
		step.Message = err.Error()
	} else {
		summary.Rendered += len(work)
	}
	v.record(ctx, step)
	return nil
}

// convert runs meanie3D-cfm2vtk for a frame in its own directory and
// collects the meshes it wrote.
func (v *Visualiser) convert(ctx context.Context, cfg *Config, fr *frame) error {
	fr.vtkDir = filepath.Join(cfg.OutputDir, fmt.Sprintf("vtk-%04d", fr.index))
	if err := os.MkdirAll(fr.vtkDir, 0755); err != nil {
		return err
	}

	params, err := tactile.SplitArgs(cfg.ConversionParams)
	if err != nil {
		return fmt.Errorf("conversion parameters: %w", err)
	}
	args := append([]string{"-f", fr.cluster}, params...)
	if cfg.WithDisplacementVectors {
		args = append(args, "--write-displacement-vectors")
	}

	res, err := v.Executor.Execute(ctx, tactile.Command{
		Binary:           v.Converter,
		Arguments:        args,
		WorkingDirectory: fr.vtkDir,
		LogFile:          filepath.Join(cfg.OutputDir, netcdf.Stem(fr.cluster)+"-cfm2vtk.log"),
		Tags:             map[string]string{"stage": "convert", "input": filepath.Base(fr.cluster)},
	})
	step := store.Step{Stage: "convert", Input: fr.cluster, Output: fr.vtkDir, Status: store.StatusSucceeded}
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
		v.record(ctx, step)
		return err
	}
	v.record(ctx, step)

	fr.clusters, _ = filepath.Glob(filepath.Join(fr.vtkDir, "*"+clusterInfix+"*.vt*"))
	sort.Slice(fr.clusters, func(i, j int) bool {
		a, _ := visit.ClusterNumber(filepath.Base(fr.clusters[i]), clusterInfix)
		b, _ := visit.ClusterNumber(filepath.Base(fr.clusters[j]), clusterInfix)
		return a < b
	})

	stem := netcdf.Stem(fr.cluster)
	if p := filepath.Join(fr.vtkDir, stem+"_centers.vtk"); resume.FileExists(p) {
		fr.centers = p
	}
	if p := filepath.Join(fr.vtkDir, stem+"_displacements.vtk"); resume.FileExists(p) {
		fr.displacement = p
	}
	return nil
}

// DefaultMovieFormats are made when neither the configuration nor the
// visualiser names any.
var DefaultMovieFormats = []string{"gif", "m4v"}

func (v *Visualiser) movieFormats(cfg *Config) []string {
	switch {
	case len(cfg.MovieFormats) > 0:
		return cfg.MovieFormats
	case len(v.MovieFormats) > 0:
		return v.MovieFormats
	}
	return DefaultMovieFormats
}

// movies assembles one movie per series, perspective and format.
func (v *Visualiser) movies(ctx context.Context, cfg *Config, summary *Summary) error {
	if v.Movies == nil {
		return nil
	}
	var kinds []string
	if cfg.CreateSourceMovie {
		kinds = append(kinds, KindSource)
	}
	if cfg.CreateClustersMovie {
		kinds = append(kinds, KindTracking)
	}

	perspectives := []int{0}
	if n := cfg.NumPerspectives(); n > 0 {
		perspectives = perspectives[:0]
		for p := 1; p <= n; p++ {
			perspectives = append(perspectives, p)
		}
	}

	type job struct{ prefix, out string }
	var jobs []job
	for _, p := range perspectives {
		for _, kind := range kinds {
			prefix := resume.ImagePrefix(p, kind)
			for _, format := range v.movieFormats(cfg) {
				jobs = append(jobs, job{prefix: prefix, out: strings.TrimSuffix(prefix, "_") + "." + format})
			}
		}
	}

	made := make([]bool, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, j := range jobs {
		g.Go(func() error {
			err := v.Movies.Create(gctx, cfg.OutputDir, j.prefix, j.out)
			switch {
			case errors.Is(err, movie.ErrNoFrames):
				logging.MovieWarn("No frames for %s", j.out)
				return nil
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logging.MovieWarn("Failed to create %s: %v", j.out, err)
				v.record(gctx, store.Step{Stage: "movie", Output: j.out, Status: store.StatusFailed, Message: err.Error()})
				return nil
			}
			made[i] = true
			v.record(gctx, store.Step{Stage: "movie", Output: j.out, Status: store.StatusSucceeded})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, ok := range made {
		if ok {
			summary.Movies = append(summary.Movies, jobs[i].out)
		}
	}
	return nil
}

func (v *Visualiser) record(ctx context.Context, step store.Step) {
	if v.Ledger == nil || v.RunID == "" {
		return
	}
	step.RunID = v.RunID
	step.Scale = v.Scale
	if err := v.Ledger.RecordStep(context.WithoutCancel(ctx), step); err != nil {
		logging.StoreWarn("Failed to record %s step: %v", step.Stage, err)
	}
}
