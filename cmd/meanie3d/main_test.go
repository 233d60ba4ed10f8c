package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meanie3d/internal/config"
	"meanie3d/internal/store"
)

// runCLI executes the root command with default settings.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLIWithSettings(t, "", args...)
}

// runCLIWithSettings executes the root command with the given settings YAML.
func runCLIWithSettings(t *testing.T, yaml string, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{"MEANIE3D_HOME", "MEANIE3D_DB", "MEANIE3D_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	settingsFile := filepath.Join(t.TempDir(), "settings.yaml")
	if yaml != "" {
		require.NoError(t, os.WriteFile(settingsFile, []byte(yaml), 0644))
	}
	rootCmd.SetArgs(append([]string{"--settings", settingsFile}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("detect failed")))
	assert.Equal(t, 2, exitCode(usageErrorf("--config is required")))
	assert.Equal(t, 2, exitCode(errors.Join(errors.New("x"), usageError{errors.New("y")})))
}

func TestConfigExample(t *testing.T) {
	out, err := runCLI(t, "config", "example")
	require.NoError(t, err)
	_, err = config.ParseRunConfig([]byte(out))
	assert.NoError(t, err)
}

func TestConfigGetSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(config.ExampleRunConfig()), 0644))

	out, err := runCLI(t, "config", "get", path, "scales")
	require.NoError(t, err)
	assert.JSONEq(t, `["10", "25"]`, out)

	_, err = runCLI(t, "config", "set", "--", path, "detection.meanie3D-detect", "-d x,y -v RX")
	require.NoError(t, err)
	_, err = runCLI(t, "config", "set", path, "postprocessing.clusters.with_datetime", "true")
	require.NoError(t, err)

	cfg, err := config.LoadRunConfig(path)
	require.NoError(t, err)
	v, err := cfg.Get("detection.meanie3D-detect")
	require.NoError(t, err)
	assert.Equal(t, "-d x,y -v RX", v)
	v, err = cfg.Get("postprocessing.clusters.with_datetime")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestConfigGetUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(config.ExampleRunConfig()), 0644))

	_, err := runCLI(t, "config", "get", path, "detection.nope")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestConfigArgumentCount(t *testing.T) {
	_, err := runCLI(t, "config", "get", "only-one")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestExplain(t *testing.T) {
	out, err := runCLI(t, "explain", "scales")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(out), "scale")

	_, err = runCLI(t, "explain", "no-such-section")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := runCLI(t, "run", "-f", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, err.Error(), "--config")
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	_, err := runCLI(t, "status", "--bogus")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestStatus(t *testing.T) {
	output := t.TempDir()
	ledger, err := store.Open(filepath.Join(output, "log", "ledger.db"))
	require.NoError(t, err)
	ctx := context.Background()
	run, err := ledger.BeginRun(ctx, store.Run{Command: "run", OutputDir: output})
	require.NoError(t, err)
	require.NoError(t, ledger.RecordStep(ctx, store.Step{RunID: run.ID, Scale: "10", Stage: "detect", Input: "/data/a.nc", Status: store.StatusSucceeded}))
	require.NoError(t, ledger.RecordStep(ctx, store.Step{RunID: run.ID, Scale: "10", Stage: "detect", Input: "/data/b.nc", Status: store.StatusFailed, ExitCode: 3}))
	require.NoError(t, ledger.FinishRun(ctx, run.ID, store.StatusFailed))
	require.NoError(t, ledger.Close())

	out, err := runCLI(t, "status", "-o", output, "--run", "")
	require.NoError(t, err)
	assert.Contains(t, out, run.ID)

	out, err = runCLI(t, "status", "-o", output, "--run", run.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "a.nc")
	assert.Contains(t, out, "b.nc")
	assert.NotContains(t, out, "/data/")
}

func TestStatusWithoutLedger(t *testing.T) {
	_, err := runCLI(t, "status", "-o", t.TempDir(), "--run", "")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("y\n"), &out, "Remove?"))
	assert.True(t, confirm(strings.NewReader(" YES \n"), &out, "Remove?"))
	assert.False(t, confirm(strings.NewReader("n\n"), &out, "Remove?"))
	assert.False(t, confirm(strings.NewReader(""), &out, "Remove?"))
	assert.Contains(t, out.String(), "Remove? [y/N]")
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, float64(3), parseValue("3"))
	assert.Equal(t, []any{"RX"}, parseValue(`["RX"]`))
	assert.Equal(t, "-d x,y", parseValue("-d x,y"))
}

func TestRunLocatesDetectOnlyWhenPending(t *testing.T) {
	t.Cleanup(func() {
		runConfigFile, runSourceDir, runOutputDir = "", "", "."
		runResume, runYes = false, false
	})
	settingsYAML := "tools:\n  detect: /nonexistent/meanie3D-detect\nledger:\n  enabled: false\n"

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.nc"), []byte("CDF\x01"), 0644))
	runFile := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(runFile, []byte(`{"data": {"variables": ["RX"]}, "detection": {"meanie3D-detect": "-d x,y"}}`), 0644))

	out := t.TempDir()
	netcdfDir := filepath.Join(out, "clustering", "netcdf")
	require.NoError(t, os.MkdirAll(netcdfDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(netcdfDir, "a-clusters.nc"), nil, 0644))

	_, err := runCLIWithSettings(t, settingsYAML, "run", "-c", runFile, "-f", src, "-o", out, "--resume")
	require.NoError(t, err, "all results exist, so meanie3D-detect is never started")

	_, err = runCLIWithSettings(t, settingsYAML, "run", "-c", runFile, "-f", src, "-o", out, "--resume=false", "--yes")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, err.Error(), "/nonexistent/meanie3D-detect")
}
