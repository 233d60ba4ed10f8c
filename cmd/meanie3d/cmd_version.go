package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"meanie3d/cmd/meanie3d/ui"
	"meanie3d/internal/tactile"
)

// versionCmd prints the version of meanie3d and of the tools it drives
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "meanie3d %s\n\n", version)

		ctx, cancel := commandContext()
		defer cancel()
		exec := tactile.NewExecutorFromSettings(settings, nil)

		styles := ui.DefaultStyles()
		table := ui.NewSimpleTable("Tools", "Tool", "Path", "Version")
		t := settings.Tools
		for _, name := range []string{t.Detect, t.Track, t.TrackStats, t.Convert, t.Visit, t.Ffmpeg} {
			path, ok := tactile.LocateOne(name, t.SearchPaths)
			if !ok {
				table.AddRow(name, styles.Status("missing"), "")
				continue
			}
			table.AddRow(name, path, toolVersion(ctx, exec, path))
		}
		fmt.Fprint(out, table.View(styles))
		return nil
	},
}

// toolVersion asks a tool for its version. Only the first line is kept, as
// VisIt and ffmpeg print banners.
func toolVersion(ctx context.Context, exec tactile.Executor, path string) string {
	v, err := tactile.Version(ctx, exec, path)
	if err != nil {
		return "unknown"
	}
	first, _, _ := strings.Cut(v, "\n")
	return first
}
