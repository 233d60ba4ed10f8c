package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"meanie3d/cmd/meanie3d/ui"
	"meanie3d/internal/config"
)

var explainWidth int

// configCmd groups the run configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit run configuration files",
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example run configuration",
	Args:  usageArgs(cobra.NoArgs),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), config.ExampleRunConfig())
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <file> <keypath>",
	Short: "Print the value at a dotted key path as JSON",
	Args:  usageArgs(cobra.ExactArgs(2)),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadRunConfig(args[0])
		if err != nil {
			return usageError{err}
		}
		value, err := cfg.Get(args[1])
		if err != nil {
			return usageError{err}
		}
		if value == nil {
			return usageErrorf("%s: no value at %s", args[0], args[1])
		}
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <file> <keypath> <value>",
	Short: "Set the value at a dotted key path",
	Long: `Sets a value and writes the file back. The value is read as JSON; anything
that is not valid JSON is stored as a string.

Example:
  meanie3d config set -- run.json detection.meanie3D-detect "-d x,y -v RX"
  meanie3d config set run.json postprocessing.clusters.with_datetime true`,
	Args: usageArgs(cobra.ExactArgs(3)),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, key := args[0], args[1]
		cfg, err := config.LoadRunConfig(path)
		if err != nil {
			return usageError{err}
		}
		if err := cfg.Set(key, parseValue(args[2])); err != nil {
			return usageError{err}
		}
		return cfg.Save(path)
	},
}

// explainCmd prints the configuration reference
var explainCmd = &cobra.Command{
	Use:   "explain [section]",
	Short: "Explain the run configuration",
	Long:  "Prints the run configuration reference. Sections: " + strings.Join(ui.Sections(), ", "),
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		section := ""
		if len(args) == 1 {
			section = args[0]
		}
		md, err := ui.Reference(section)
		if err != nil {
			return usageError{err}
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderMarkdown(md, explainWidth, ui.DefaultStyles()))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configExampleCmd, configGetCmd, configSetCmd)
	explainCmd.Flags().IntVar(&explainWidth, "width", 80, "Wrap width")
}

// parseValue decodes a JSON value, falling back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
