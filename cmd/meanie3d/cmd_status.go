package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"meanie3d/cmd/meanie3d/ui"
	"meanie3d/internal/report"
	"meanie3d/internal/resume"
	"meanie3d/internal/store"
)

var (
	statusOutputDir string
	statusRunID     string
	statusLimit     int

	reportDir     string
	reportOutput  string
	reportTitle   string
	reportColumns int
	reportSeries  []string
	reportRunID   string
	reportLedger  string
	reportMax     int
)

// statusCmd shows the ledger
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs, or the steps of one run",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runStatus,
}

// reportCmd writes a PDF contact sheet
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a PDF contact sheet of rendered frames",
	Long: `Lays out the frames of a visualisation directory, one section per image
series. With --run and --ledger-dir the step counts of that run are printed on
the title page.

Example:
  meanie3d report -d out/scale10/visualisation -o scale10.pdf --series tracking_`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runReport,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutputDir, "output", "o", ".", "Output directory of the runs")
	statusCmd.Flags().StringVar(&statusRunID, "run", "", "Show the steps of this run")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of runs shown")

	reportCmd.Flags().StringVarP(&reportDir, "dir", "d", "", "Visualisation directory")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "report.pdf", "PDF file")
	reportCmd.Flags().StringVar(&reportTitle, "title", "", "Title of the report")
	reportCmd.Flags().IntVar(&reportColumns, "columns", 3, "Images per row")
	reportCmd.Flags().StringSliceVar(&reportSeries, "series", nil, "Only these image prefixes")
	reportCmd.Flags().StringVar(&reportRunID, "run", "", "Print the step counts of this run")
	reportCmd.Flags().StringVar(&reportLedger, "ledger-dir", ".", "Output directory holding the ledger of --run")
	reportCmd.Flags().IntVar(&reportMax, "max-images", 0, "Images per series (0: all)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	output, err := absPath("output", statusOutputDir)
	if err != nil {
		return err
	}
	path := ledgerPath(output)
	if !resume.FileExists(path) {
		return usageErrorf("no ledger at %s", path)
	}
	ledger, err := store.Open(path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := context.Background()
	styles := ui.DefaultStyles()
	out := cmd.OutOrStdout()

	if statusRunID != "" {
		steps, err := ledger.Steps(ctx, statusRunID)
		if err != nil {
			return err
		}
		table := ui.NewSimpleTable("Run "+statusRunID, "Scale", "Stage", "Input", "Status", "Exit", "Duration", "Message")
		for _, s := range steps {
			table.AddRow(s.Scale, s.Stage, filepath.Base(s.Input), styles.Status(s.Status), fmt.Sprint(s.ExitCode),
				(time.Duration(s.DurationMs) * time.Millisecond).String(), s.Message)
		}
		fmt.Fprint(out, table.View(styles))
		return nil
	}

	runs, err := ledger.Runs(ctx, statusLimit)
	if err != nil {
		return err
	}
	table := ui.NewSimpleTable("Runs in "+output, "ID", "Command", "Started", "Status", "Steps", "Failed", "Skipped")
	for _, r := range runs {
		c, err := ledger.Counts(ctx, r.ID)
		if err != nil {
			return err
		}
		table.AddRow(r.ID, r.Command, r.StartedAt.Local().Format("2006-01-02 15:04:05"), styles.Status(r.Status),
			fmt.Sprint(c.Total), fmt.Sprint(c.Failed), fmt.Sprint(c.Skipped))
	}
	fmt.Fprint(out, table.View(styles))
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	dir, err := requireDir("dir", reportDir)
	if err != nil {
		return err
	}
	out, err := absPath("output", reportOutput)
	if err != nil {
		return err
	}

	opts := report.Options{
		Title:     reportTitle,
		Columns:   reportColumns,
		Series:    reportSeries,
		MaxImages: reportMax,
	}
	if reportRunID != "" {
		counts, err := runCounts(reportLedger, reportRunID)
		if err != nil {
			return err
		}
		opts.Counts = counts
	}
	if err := report.Build(dir, out, opts); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// runCounts reads the step counts of a run from the ledger of an output
// directory.
func runCounts(output, runID string) (*store.Counts, error) {
	output, err := absPath("ledger-dir", output)
	if err != nil {
		return nil, err
	}
	path := ledgerPath(output)
	if !resume.FileExists(path) {
		return nil, usageErrorf("no ledger at %s", path)
	}
	ledger, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	defer ledger.Close()
	c, err := ledger.Counts(context.Background(), runID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
