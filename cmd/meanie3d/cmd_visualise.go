package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meanie3d/cmd/meanie3d/ui"
	"meanie3d/internal/logging"
	"meanie3d/internal/visualise"
)

var (
	visConfigFile string
	visSourceDir  string
	visClusterDir string
	visOutputDir  string
	visResume     bool

	movieDir    string
	moviePrefix string
	movieOutput string
)

// visualiseCmd renders clusters of an existing run
var visualiseCmd = &cobra.Command{
	Use:     "visualise",
	Aliases: []string{"visualize"},
	Short:   "Render source data and tracked clusters with VisIt",
	Long: `Renders every source file that has a cluster file in the cluster
directory, then assembles the movies.

The configuration is either a visualisation section on its own or a run
configuration with a postprocessing.clusters section.

Example:
  meanie3d visualise -c clusters.json -f /data/radolan -k /data/out/scale10/netcdf`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runVisualise,
}

// movieCmd assembles numbered images into a movie
var movieCmd = &cobra.Command{
	Use:   "movie",
	Short: "Assemble <prefix>NNNN.png images into a movie",
	Long: `The container follows the output extension: .gif and .avi are encoded
directly, .m4v and .mp4 through ffmpeg.

Example:
  meanie3d movie -d out/images -p p1_tracking_ -o tracking.gif`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runMovie,
}

func init() {
	visualiseCmd.Flags().StringVarP(&visConfigFile, "config", "c", "", "Visualisation or run configuration")
	visualiseCmd.Flags().StringVarP(&visSourceDir, "source", "f", "", "Directory of source NetCDF files")
	visualiseCmd.Flags().StringVarP(&visClusterDir, "clusters", "k", "", "Directory of cluster files (default: cluster_directory of the configuration)")
	visualiseCmd.Flags().StringVarP(&visOutputDir, "output", "o", "visualisation", "Output directory")
	visualiseCmd.Flags().BoolVarP(&visResume, "resume", "r", false, "Keep complete frames of a previous run")

	movieCmd.Flags().StringVarP(&movieDir, "dir", "d", ".", "Directory of the images")
	movieCmd.Flags().StringVarP(&moviePrefix, "prefix", "p", "", "Image prefix, e.g. source_")
	movieCmd.Flags().StringVarP(&movieOutput, "output", "o", "", "Movie file")
}

func runVisualise(cmd *cobra.Command, args []string) error {
	if visConfigFile == "" {
		return usageErrorf("--config is required")
	}
	cfg, err := visualise.Load(visConfigFile)
	if err != nil {
		return usageError{err}
	}
	if cfg.SourceDirectory, err = requireDir("source", visSourceDir); err != nil {
		return err
	}
	clusters := visClusterDir
	if clusters == "" {
		clusters = cfg.ClusterDirectory
	}
	if cfg.ClusterDirectory, err = requireDir("clusters", clusters); err != nil {
		return err
	}
	if cfg.OutputDir, err = absPath("output", visOutputDir); err != nil {
		return err
	}
	cfg.Resume = visResume

	if err := initLogging(cfg.OutputDir); err != nil {
		return err
	}
	tools, err := locate(settings.Tools.Convert, settings.Tools.Visit)
	if err != nil {
		return err
	}
	exec, audit, err := newExecutor(cfg.OutputDir)
	if err != nil {
		return err
	}
	defer audit.Close()

	ctx, cancel := commandContext()
	defer cancel()

	summary, err := newVisualiser(exec, tools).Run(ctx, cfg)
	if summary != nil {
		table := ui.NewSimpleTable("Visualisation", "Frames", "Rendered", "Skipped", "Failed", "Movies")
		table.AddRow(fmt.Sprint(summary.Frames), fmt.Sprint(summary.Rendered), fmt.Sprint(summary.Skipped),
			fmt.Sprint(summary.Failed), fmt.Sprint(len(summary.Movies)))
		fmt.Fprint(cmd.OutOrStdout(), table.View(ui.DefaultStyles()))
	}
	if err != nil {
		return err
	}
	return summary.Err()
}

func runMovie(cmd *cobra.Command, args []string) error {
	if moviePrefix == "" || movieOutput == "" {
		return usageErrorf("--prefix and --output are required")
	}
	dir, err := requireDir("dir", movieDir)
	if err != nil {
		return err
	}
	exec, audit, err := newExecutor("")
	if err != nil {
		return err
	}
	defer audit.Close()

	ctx, cancel := commandContext()
	defer cancel()
	if err := newMaker(exec).Create(ctx, dir, moviePrefix, movieOutput); err != nil {
		return err
	}
	logging.Movie("Wrote %s", movieOutput)
	return nil
}
