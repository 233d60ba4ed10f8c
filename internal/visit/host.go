package visit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"meanie3d/internal/logging"
	"meanie3d/internal/tactile"
)

// DefaultArgs run VisIt headless with a script.
var DefaultArgs = []string{"-cli", "-nowin", "-s"}

// Host runs scripts in VisIt.
type Host struct {
	Executor tactile.Executor

	// Binary is the visit executable.
	Binary string

	// Args precede the script path; DefaultArgs when empty.
	Args []string

	// Timeout per script; the executor default when zero.
	Timeout time.Duration

	// Environment is passed to VisIt, e.g. PYTHONPATH.
	Environment []string

	scripts atomic.Int64
}

// ScriptName returns the file name of the n-th script.
func ScriptName(n int64) string {
	return fmt.Sprintf("render-%d.py", n)
}

// Run writes the script to workDir and executes it there. Output goes to
// <workDir>/<script>.log. A non-zero exit is returned as an error together
// with the result.
func (h *Host) Run(ctx context.Context, script *Script, workDir string) (*tactile.ExecutionResult, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", workDir, err)
	}
	n := h.scripts.Add(1)
	path := filepath.Join(workDir, ScriptName(n))
	if err := os.WriteFile(path, []byte(script.String()), 0644); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}

	args := h.Args
	if len(args) == 0 {
		args = DefaultArgs
	}
	cmd := tactile.Command{
		Binary:           h.Binary,
		Arguments:        append(append([]string(nil), args...), path),
		WorkingDirectory: workDir,
		Environment:      h.Environment,
		LogFile:          path + ".log",
		Tags:             map[string]string{"stage": "render", "script": filepath.Base(path)},
	}
	if h.Timeout > 0 {
		cmd.Limits = &tactile.ResourceLimits{TimeoutMs: h.Timeout.Milliseconds()}
	}

	logging.VisitDebug("Running %s in %s", filepath.Base(path), workDir)
	timer := logging.StartTimer(logging.CategoryVisit, filepath.Base(path))
	res, err := h.Executor.Execute(ctx, cmd)
	timer.Stop()
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		logging.VisitError("%s failed: %v (see %s)", filepath.Base(path), res.Err(), cmd.LogFile)
		return res, fmt.Errorf("visit script %s: %w", filepath.Base(path), res.Err())
	}
	return res, nil
}
