package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"meanie3d/internal/logging"
	"meanie3d/internal/watch"
)

var (
	watchConfigFile string
	watchSourceDir  string
	watchScales     string
	watchOutputDir  string
	watchDebounce   time.Duration
	watchJobs       int
)

// watchCmd follows a source directory
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Process the source directory, then keep processing new files",
	Long: `Runs once in resume mode, then watches the source directory. Whenever new
NetCDF files have been completely written the run is repeated in resume
mode, so only the new time steps are processed.

Stop with Ctrl+C.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchConfigFile, "config", "c", "", "Run configuration")
	watchCmd.Flags().StringVarP(&watchSourceDir, "source", "f", "", "Directory of NetCDF files")
	watchCmd.Flags().StringVarP(&watchScales, "scales", "s", "", "Comma separated scales")
	watchCmd.Flags().StringVarP(&watchOutputDir, "output", "o", ".", "Output directory")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 5*time.Second, "Quiet period before a new file is processed")
	watchCmd.Flags().IntVar(&watchJobs, "jobs", 1, "Scales processed concurrently")
}

func runWatch(cmd *cobra.Command, args []string) error {
	req, err := newRunRequest("watch", watchConfigFile, watchSourceDir, watchOutputDir, watchScales, true)
	if err != nil {
		return err
	}
	req.jobs = watchJobs

	ctx, cancel := commandContext()
	defer cancel()

	if err := execute(ctx, cmd, req, false); err != nil && ctx.Err() == nil {
		logging.WatchWarn("Initial run: %v", err)
	}

	w, err := watch.New(req.cfg.SourceDirectory, watchDebounce, func(ctx context.Context, files []string) error {
		for _, f := range files {
			logging.Watch("New file %s", filepath.Base(f))
		}
		return execute(ctx, cmd, req, false)
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()

	stats := w.Stats()
	logging.Watch("Processed %d new file(s) in %d run(s)", stats.Settled, stats.Batches)
	return nil
}
