// Command meanie3d runs the meanie3D cluster detection and tracking tools
// over a directory of NetCDF files and visualises the results.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"meanie3d/internal/config"
	"meanie3d/internal/logging"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	verbose      bool
	settingsPath string
	timeout      time.Duration

	// Tool settings, loaded before every command.
	settings *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "meanie3d",
	Short: "Cluster detection, tracking and visualisation with the meanie3D tools",
	Long: `meanie3d drives meanie3D-detect, meanie3D-track, meanie3D-trackstats and
meanie3D-cfm2vtk over a directory of NetCDF files, one scale at a time, and
renders the tracked clusters with VisIt.

Runs can be resumed: files whose results exist are skipped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := settingsPath
		if path == "" {
			path = config.DefaultSettingsPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return usageError{err}
		}
		if err := cfg.Validate(); err != nil {
			return usageError{fmt.Errorf("settings %s: %w", path, err)}
		}
		settings = cfg
		if err := initLogging(""); err != nil {
			return err
		}
		logging.BootDebug("Settings loaded from %s", path)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Tool settings file (default: ~/.meanie3d/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Abort after this duration (0: no limit)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(visualiseCmd)
	rootCmd.AddCommand(movieCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(versionCmd)
}

// usageError marks errors in the invocation or configuration.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// usageArgs turns argument count errors into usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// exitCode maps an error to the process exit status: 2 for usage and
// configuration errors, 1 for processing failures.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
