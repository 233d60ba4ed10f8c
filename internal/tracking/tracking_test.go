package tracking

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meanie3d/internal/config"
	"meanie3d/internal/store"
	"meanie3d/internal/tactile"
)

// fakeExecutor pretends to be meanie3D-detect and meanie3D-track: detect
// writes the -o file unless the input name contains one of failOn.
type fakeExecutor struct {
	mu       sync.Mutex
	commands []tactile.Command
	failOn   []string
}

func (f *fakeExecutor) Validate(tactile.Command) error { return nil }

func (f *fakeExecutor) Execute(_ context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	for _, bad := range f.failOn {
		if strings.Contains(cmd.Tags["input"], bad) && cmd.Tags["stage"] == StageDetect {
			return &tactile.ExecutionResult{Success: true, ExitCode: 1, Command: &cmd}, nil
		}
	}
	if out := argAfter(cmd.Arguments, "-o"); out != "" {
		if err := os.WriteFile(out, []byte("CDF\x01"), 0644); err != nil {
			return nil, err
		}
	}
	return &tactile.ExecutionResult{Success: true, ExitCode: 0, Command: &cmd}, nil
}

func (f *fakeExecutor) byStage(stage string) []tactile.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tactile.Command
	for _, c := range f.commands {
		if c.Tags["stage"] == stage {
			out = append(out, c)
		}
	}
	return out
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

type memLedger struct {
	mu    sync.Mutex
	steps []store.Step
}

func (m *memLedger) RecordStep(_ context.Context, s store.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, s)
	return nil
}

func sourceDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("CDF\x01"), 0644))
	}
	return dir
}

func runConfig(t *testing.T, src string, tracking bool) *config.RunConfig {
	t.Helper()
	cfg := &config.RunConfig{
		Detection:       &config.DetectionSection{Params: "-r 10,10,100 --drf-threshold 0.5"},
		SourceDirectory: src,
		OutputDir:       t.TempDir(),
	}
	if tracking {
		cfg.Tracking = &config.TrackingSection{Params: "-t RX --verbosity 1"}
	}
	return cfg
}

func TestRun_DetectsAndTracksInOrder(t *testing.T) {
	src := sourceDir(t, "rx-0002.nc", "rx-0001.nc", "rx-0003.nc")
	cfg := runConfig(t, src, true)
	exec := &fakeExecutor{}
	ledger := &memLedger{}
	var events []Event
	r := &Runner{
		Executor: exec,
		Tools:    Tools{Detect: "meanie3D-detect", Track: "meanie3D-track"},
		Ledger:   ledger,
		RunID:    "run-1",
		Observer: func(e Event) { events = append(events, e) },
	}

	summary, err := r.Run(context.Background(), cfg, "25", NoTimeIndex)
	require.NoError(t, err)
	assert.NoError(t, summary.Err())
	assert.Equal(t, 5, summary.Processed, "three detections, two trackings")

	netcdfDir := filepath.Join(cfg.OutputDir, "scale25", "netcdf")
	detects := exec.byStage(StageDetect)
	require.Len(t, detects, 3)
	assert.Equal(t, []string{
		"-f", filepath.Join(src, "rx-0001.nc"),
		"-o", filepath.Join(netcdfDir, "rx-0001-clusters.nc"),
		"-r", "10,10,100", "--drf-threshold", "0.5",
		"-s", "25",
	}, detects[0].Arguments)
	assert.Equal(t, "meanie3D-detect", detects[0].Binary)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "scale25", "log", "rx-0001-detect.log"), detects[0].LogFile)

	tracks := exec.byStage(StageTrack)
	require.Len(t, tracks, 2)
	assert.Equal(t, []string{
		"--previous", filepath.Join(netcdfDir, "rx-0001-clusters.nc"),
		"--current", filepath.Join(netcdfDir, "rx-0002-clusters.nc"),
		"-t", "RX", "--verbosity", "1",
	}, tracks[0].Arguments)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "scale25", "log", "rx-0002-track.log"), tracks[0].LogFile)

	assert.Len(t, ledger.steps, 5)
	for _, s := range ledger.steps {
		assert.Equal(t, "run-1", s.RunID)
		assert.Equal(t, "25", s.Scale)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, StatusRunning, events[0].Status)
	assert.Equal(t, 3, events[0].Total)
}

func TestRun_FailureContinuesFromLastSuccess(t *testing.T) {
	src := sourceDir(t, "a.nc", "b-bad.nc", "c.nc")
	cfg := runConfig(t, src, true)
	exec := &fakeExecutor{failOn: []string{"bad"}}
	r := &Runner{Executor: exec, Tools: Tools{Detect: "detect", Track: "track"}}

	summary, err := r.Run(context.Background(), cfg, "", NoTimeIndex)
	require.NoError(t, err, "a failing file does not stop the run")
	assert.Equal(t, 1, summary.Failed)
	assert.ErrorIs(t, summary.Err(), ErrStepsFailed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, StageDetect, summary.Failures[0].Stage)

	tracks := exec.byStage(StageTrack)
	require.Len(t, tracks, 1)
	netcdfDir := filepath.Join(cfg.OutputDir, "clustering", "netcdf")
	assert.Equal(t, filepath.Join(netcdfDir, "a-clusters.nc"), argAfter(tracks[0].Arguments, "--previous"))
	assert.Equal(t, filepath.Join(netcdfDir, "c-clusters.nc"), argAfter(tracks[0].Arguments, "--current"))

	for _, d := range exec.byStage(StageDetect) {
		assert.Empty(t, argAfter(d.Arguments, "-s"), "no scale, no -s")
	}
}

func TestRun_InlineTrackingPassesPrevious(t *testing.T) {
	src := sourceDir(t, "a.nc", "b.nc")
	cfg := runConfig(t, src, false)
	cfg.Detection.InlineTracking = true
	exec := &fakeExecutor{}
	r := &Runner{Executor: exec, Tools: Tools{Detect: "detect", Track: "track"}}

	_, err := r.Run(context.Background(), cfg, "", NoTimeIndex)
	require.NoError(t, err)

	detects := exec.byStage(StageDetect)
	require.Len(t, detects, 2)
	assert.Empty(t, argAfter(detects[0].Arguments, "-p"))
	assert.Equal(t, "a-clusters.nc", filepath.Base(argAfter(detects[1].Arguments, "-p")))
	assert.Empty(t, exec.byStage(StageTrack))
}

func TestRun_ResumeSkipsExistingClusterFiles(t *testing.T) {
	src := sourceDir(t, "a.nc", "b.nc", "c.nc")
	cfg := runConfig(t, src, true)
	cfg.Resume = true

	netcdfDir := filepath.Join(cfg.OutputDir, "scale10", "netcdf")
	require.NoError(t, os.MkdirAll(netcdfDir, 0755))
	for _, n := range []string{"a-clusters.nc", "b-clusters.nc"} {
		require.NoError(t, os.WriteFile(filepath.Join(netcdfDir, n), nil, 0644))
	}

	exec := &fakeExecutor{}
	r := &Runner{Executor: exec, Tools: Tools{Detect: "detect", Track: "track"}}
	summary, err := r.Run(context.Background(), cfg, "10", NoTimeIndex)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)

	detects := exec.byStage(StageDetect)
	require.Len(t, detects, 1)
	assert.Equal(t, filepath.Join(src, "c.nc"), argAfter(detects[0].Arguments, "-f"))

	tracks := exec.byStage(StageTrack)
	require.Len(t, tracks, 1)
	assert.Equal(t, filepath.Join(netcdfDir, "b-clusters.nc"), argAfter(tracks[0].Arguments, "--previous"))
}

func TestRun_NoDetectionIsANoop(t *testing.T) {
	exec := &fakeExecutor{}
	r := &Runner{Executor: exec}
	summary, err := r.Run(context.Background(), &config.RunConfig{}, "", NoTimeIndex)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, exec.commands)
}

func TestRunAll_ScalesAndTimeIndices(t *testing.T) {
	src := sourceDir(t, "herz.nc")
	cfg := runConfig(t, src, false)
	exec := &fakeExecutor{}
	r := &Runner{Executor: exec, Tools: Tools{Detect: "detect"}}

	summary, err := r.RunAll(context.Background(), cfg, []string{"10", "25"}, TimeRange{Start: 0, End: 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Processed)

	for _, scale := range []string{"10", "25"} {
		for _, name := range []string{"herz-0-clusters.nc", "herz-1-clusters.nc", "herz-2-clusters.nc"} {
			assert.FileExists(t, filepath.Join(cfg.OutputDir, "scale"+scale, "netcdf", name))
		}
	}

	for _, c := range exec.byStage(StageDetect) {
		assert.NotEmpty(t, argAfter(c.Arguments, "--time-index"))
	}
	assert.Empty(t, cfg.Scale, "the caller's configuration is not modified")
}

func TestRunAll_FailingScaleDoesNotStopOthers(t *testing.T) {
	src := sourceDir(t, "herz.nc")
	cfg := runConfig(t, src, false)
	// A file where the scale 10 directory belongs makes that scale fail.
	require.NoError(t, os.WriteFile(filepath.Join(cfg.OutputDir, "scale10"), nil, 0644))
	exec := &fakeExecutor{}
	r := &Runner{Executor: exec, Tools: Tools{Detect: "detect"}}

	summary, err := r.RunAll(context.Background(), cfg, []string{"10", "25"}, AllTimes, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scale 10")
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Processed)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "scale25", "netcdf", "herz-clusters.nc"))
	assert.Len(t, exec.byStage(StageDetect), 1)
}

func TestPending(t *testing.T) {
	src := sourceDir(t, "a.nc", "b.nc")
	cfg := runConfig(t, src, true)

	pending, err := Pending(cfg, []string{"10"}, AllTimes)
	require.NoError(t, err)
	assert.True(t, pending, "everything is rerun without resume")

	cfg.Resume = true
	netcdfDir := filepath.Join(cfg.OutputDir, "scale10", "netcdf")
	require.NoError(t, os.MkdirAll(netcdfDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(netcdfDir, "a-clusters.nc"), nil, 0644))
	pending, err = Pending(cfg, []string{"10"}, AllTimes)
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, os.WriteFile(filepath.Join(netcdfDir, "b-clusters.nc"), nil, 0644))
	pending, err = Pending(cfg, []string{"10"}, AllTimes)
	require.NoError(t, err)
	assert.False(t, pending)

	pending, err = Pending(cfg, []string{"10", "25"}, AllTimes)
	require.NoError(t, err)
	assert.True(t, pending, "scale 25 has no results")

	pending, err = Pending(&config.RunConfig{SourceDirectory: src}, nil, AllTimes)
	require.NoError(t, err)
	assert.False(t, pending, "no detection configured")
}

func TestRunAll_RejectsBadTimeRange(t *testing.T) {
	r := &Runner{Executor: &fakeExecutor{}}
	_, err := r.RunAll(context.Background(), &config.RunConfig{}, nil, TimeRange{Start: 2, End: NoTimeIndex}, 1)
	assert.EqualError(t, err, "start-time-index and end-time-index must both be set")
	_, err = r.RunAll(context.Background(), &config.RunConfig{}, nil, TimeRange{Start: 5, End: 2}, 1)
	assert.EqualError(t, err, "start-time-index is after end-time-index!")
}

func TestRun_Cancelled(t *testing.T) {
	src := sourceDir(t, "a.nc", "b.nc")
	cfg := runConfig(t, src, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Executor: &fakeExecutor{}, Tools: Tools{Detect: "detect"}}
	_, err := r.Run(ctx, cfg, "", NoTimeIndex)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTimeRange(t *testing.T) {
	assert.NoError(t, AllTimes.Validate())
	assert.Equal(t, []int{NoTimeIndex}, AllTimes.Indices())
	assert.Equal(t, []int{3, 4}, TimeRange{Start: 3, End: 5}.Indices())
	assert.Empty(t, TimeRange{Start: 3, End: 3}.Indices())
	assert.Error(t, TimeRange{Start: -4, End: 2}.Validate())
}

func TestSummaryMerge(t *testing.T) {
	a := &Summary{}
	a.processed()
	a.failed(Failure{Scale: "25", File: "x.nc", Stage: StageTrack, TimeIndex: NoTimeIndex})
	b := &Summary{}
	b.skipped()
	b.failed(Failure{Scale: "10", File: "y.nc", Stage: StageDetect, TimeIndex: 2})

	a.Merge(b)
	assert.Equal(t, 1, a.Processed)
	assert.Equal(t, 1, a.Skipped)
	assert.Equal(t, 2, a.Failed)
	assert.Equal(t, "10", a.Failures[0].Scale)
	assert.Contains(t, a.Err().Error(), "2 failures")
	assert.Equal(t, "scale 10: y.nc[t=2] (detect): <nil>", a.Failures[0].String())
}
