package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"meanie3d/cmd/meanie3d/ui"
	"meanie3d/internal/config"
	"meanie3d/internal/logging"
	"meanie3d/internal/postprocessing"
	"meanie3d/internal/resume"
	"meanie3d/internal/store"
	"meanie3d/internal/tracking"
)

var (
	runConfigFile  string
	runSourceDir   string
	runScales      string
	runOutputDir   string
	runStart       int
	runEnd         int
	runResume      bool
	runYes         bool
	runJobs        int
	runProgress    bool
	runJSONExample bool
)

// runCmd runs detection, tracking and postprocessing
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect and track clusters, then run the postprocessing",
	Long: `Runs meanie3D-detect (and meanie3D-track) over every NetCDF file of the
source directory, for every scale, then the postprocessing section of the
configuration: track statistics and visualisation.

Results go to <output>/scale<N> or <output>/clustering. Without --resume,
results of previous runs are removed after confirmation.

Example:
  meanie3d run -c rx.json -f /data/radolan -s 10,25 -o /data/out`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runTracking,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigFile, "config", "c", "", "Run configuration (JSON, or YAML)")
	runCmd.Flags().StringVarP(&runSourceDir, "source", "f", "", "Directory of NetCDF files")
	runCmd.Flags().StringVarP(&runScales, "scales", "s", "", "Comma separated scales, replacing those of the configuration")
	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", ".", "Output directory")
	runCmd.Flags().IntVar(&runStart, "start", tracking.NoTimeIndex, "First time index of multi-time files")
	runCmd.Flags().IntVar(&runEnd, "end", tracking.NoTimeIndex, "Last time index of multi-time files")
	runCmd.Flags().BoolVarP(&runResume, "resume", "r", false, "Skip files whose results exist")
	runCmd.Flags().BoolVar(&runYes, "yes", false, "Remove previous results without asking")
	runCmd.Flags().IntVar(&runJobs, "jobs", 1, "Scales processed concurrently")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "Show a progress display instead of log lines")
	runCmd.Flags().BoolVar(&runJSONExample, "json-example", false, "Print an example configuration and exit")
}

// runRequest is a resolved run invocation.
type runRequest struct {
	command string
	cfg     *config.RunConfig
	scales  []string
	times   tracking.TimeRange
	jobs    int
}

func runTracking(cmd *cobra.Command, args []string) error {
	if runJSONExample {
		fmt.Fprint(cmd.OutOrStdout(), config.ExampleRunConfig())
		return nil
	}

	req, err := newRunRequest("run", runConfigFile, runSourceDir, runOutputDir, runScales, runResume)
	if err != nil {
		return err
	}
	req.times = tracking.TimeRange{Start: runStart, End: runEnd}
	req.jobs = runJobs
	if err := req.times.Validate(); err != nil {
		return usageError{err}
	}

	if !runResume {
		ask := func(prompt string) bool {
			return runYes || confirm(cmd.InOrStdin(), cmd.OutOrStdout(), prompt)
		}
		if err := resume.RemoveResults(req.cfg.OutputDir, req.scales, ask); err != nil {
			return err
		}
	}

	ctx, cancel := commandContext()
	defer cancel()
	return execute(ctx, cmd, req, runProgress)
}

// newRunRequest loads the run configuration and enriches it with absolute
// paths and the command line.
func newRunRequest(command, configFile, sourceDir, outputDir, scales string, resuming bool) (*runRequest, error) {
	if configFile == "" {
		return nil, usageErrorf("--config is required")
	}
	cfg, err := config.LoadRunConfig(configFile)
	if err != nil {
		return nil, usageError{err}
	}
	if cfg.SourceDirectory, err = requireDir("source", sourceDir); err != nil {
		return nil, err
	}
	if cfg.OutputDir, err = absPath("output", outputDir); err != nil {
		return nil, err
	}
	cfg.Resume = resuming

	override, err := config.ParseScales(scales)
	if err != nil {
		return nil, usageError{err}
	}
	return &runRequest{
		command: command,
		cfg:     cfg,
		scales:  cfg.EffectiveScales(override),
		times:   tracking.AllTimes,
		jobs:    1,
	}, nil
}

// execute runs detection, tracking and postprocessing of a request and
// records it in the ledger.
func execute(ctx context.Context, cmd *cobra.Command, req *runRequest, progress bool) error {
	cfg := req.cfg
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return err
	}
	if err := initLogging(cfg.OutputDir); err != nil {
		return err
	}
	logging.Boot("meanie3d %s: %s -> %s, scales %v", version, cfg.SourceDirectory, cfg.OutputDir, req.scales)

	// Only the tools this run will start need to be installed.
	detecting, err := tracking.Pending(cfg, req.scales, req.times)
	if err != nil {
		return err
	}
	var names []string
	if detecting {
		names = append(names, settings.Tools.Detect)
		if cfg.HasTracking() && !cfg.TrackingInline() {
			names = append(names, settings.Tools.Track)
		}
	}
	post := cfg.HasPostprocessing()
	if post && cfg.Postprocessing.Tracks != nil {
		names = append(names, settings.Tools.TrackStats)
	}
	if post && len(cfg.Postprocessing.Clusters) > 0 {
		names = append(names, settings.Tools.Convert, settings.Tools.Visit)
	}
	tools, err := locate(names...)
	if err != nil {
		return err
	}
	logging.BootDebug("Tools: %v", tools)

	exec, audit, err := newExecutor(cfg.OutputDir)
	if err != nil {
		return err
	}
	defer audit.Close()

	runner := &tracking.Runner{
		Executor: exec,
		Tools:    tracking.Tools{Detect: tools[settings.Tools.Detect], Track: tools[settings.Tools.Track]},
	}
	postprocessor := &postprocessing.Postprocessor{
		Executor:   exec,
		TrackStats: tools[settings.Tools.TrackStats],
		Visualiser: newVisualiser(exec, tools),
	}

	ledger := openLedger(cfg.OutputDir)
	var runID string
	if ledger != nil {
		defer ledger.Close()
		run, err := ledger.BeginRun(ctx, store.Run{
			Command:    req.command,
			ConfigFile: cfg.ConfigFile,
			SourceDir:  cfg.SourceDirectory,
			OutputDir:  cfg.OutputDir,
		})
		if err != nil {
			logging.StoreWarn("Failed to record run: %v", err)
		} else {
			runID = run.ID
			runner.Ledger, runner.RunID = ledger, runID
			postprocessor.Ledger, postprocessor.RunID = ledger, runID
		}
	}

	var summary *tracking.Summary
	track := func(observer tracking.Observer) error {
		runner.Observer = observer
		var err error
		summary, err = runner.RunAll(ctx, cfg, req.scales, req.times, req.jobs)
		return err
	}
	if progress {
		prev := logging.Level()
		logging.SetLevel(zapcore.ErrorLevel)
		err = ui.RunProgress(cmd.ErrOrStderr(), ui.DefaultStyles(), track)
		logging.SetLevel(prev)
	} else {
		err = track(nil)
	}

	var postErr error
	if err == nil {
		_, postErr = postprocessor.Run(ctx, cfg, req.scales)
	}

	failed := err
	if failed == nil && summary != nil {
		failed = summary.Err()
	}
	failed = errors.Join(failed, postErr)

	if ledger != nil && runID != "" {
		status := store.StatusSucceeded
		if failed != nil {
			status = store.StatusFailed
		}
		if ferr := ledger.FinishRun(context.WithoutCancel(ctx), runID, status); ferr != nil {
			logging.StoreWarn("Failed to finish run: %v", ferr)
		}
	}

	if summary != nil {
		printSummary(cmd, summary, runID)
	}
	return failed
}

func printSummary(cmd *cobra.Command, s *tracking.Summary, runID string) {
	styles := ui.DefaultStyles()
	table := ui.NewSimpleTable("Detection and tracking", "Processed", "Skipped", "Failed")
	table.AddRow(fmt.Sprint(s.Processed), fmt.Sprint(s.Skipped), fmt.Sprint(s.Failed))
	out := cmd.OutOrStdout()
	fmt.Fprint(out, table.View(styles))
	for _, f := range s.Failures {
		fmt.Fprintln(out, styles.Error.Render("  "+f.String()))
	}
	if runID != "" {
		fmt.Fprintln(out, styles.Muted.Render("run "+runID))
	}
}
