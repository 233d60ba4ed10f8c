package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"meanie3d/internal/logging"
	"meanie3d/internal/movie"
	"meanie3d/internal/store"
	"meanie3d/internal/tactile"
	"meanie3d/internal/visit"
	"meanie3d/internal/visualise"
)

// initLogging configures the logger from the settings. With an output
// directory, a JSON copy of the log goes to <output>/log/meanie3d.log unless
// the settings name another file.
func initLogging(output string) error {
	opts := logging.Options{
		Level:      settings.Logging.Level,
		Format:     settings.Logging.Format,
		File:       settings.Logging.File,
		Categories: settings.Logging.Categories,
	}
	if verbose {
		opts.Level = "debug"
	}
	if opts.File == "" && output != "" {
		opts.File = filepath.Join(output, "log", "meanie3d.log")
	}
	if err := logging.Initialize(opts); err != nil {
		return usageError{err}
	}
	return nil
}

// commandContext is cancelled by SIGINT, SIGTERM or the --timeout.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

// newExecutor returns the executor of all child processes. With an output
// directory every execution is appended to <output>/log/executions.jsonl.
func newExecutor(output string) (*tactile.DirectExecutor, *tactile.AuditLogger, error) {
	audit := tactile.NewAuditLogger()
	if output != "" {
		if err := audit.EnableFileLogging(filepath.Join(output, "log", "executions.jsonl")); err != nil {
			return nil, nil, err
		}
	}
	return tactile.NewExecutorFromSettings(settings, audit), audit, nil
}

// locate resolves tool names through the settings search paths.
func locate(names ...string) (map[string]string, error) {
	found, err := tactile.Locate(names, settings.Tools.SearchPaths)
	if err != nil {
		return nil, usageError{err}
	}
	return found, nil
}

// ledgerPath is the settings path or <output>/log/ledger.db.
func ledgerPath(output string) string {
	if settings.Ledger.Path != "" {
		return settings.Ledger.Path
	}
	return filepath.Join(output, "log", "ledger.db")
}

// openLedger opens the run ledger, or returns nil when it is disabled or
// cannot be opened. Processing never depends on the ledger.
func openLedger(output string) *store.Ledger {
	if !settings.Ledger.Enabled {
		return nil
	}
	ledger, err := store.Open(ledgerPath(output))
	if err != nil {
		logging.StoreWarn("Ledger disabled: %v", err)
		return nil
	}
	return ledger
}

// newVisualiser wires the host, converter and movie maker from the settings.
func newVisualiser(exec tactile.Executor, tools map[string]string) *visualise.Visualiser {
	return &visualise.Visualiser{
		Executor: exec,
		Host: &visit.Host{
			Executor: exec,
			Binary:   tools[settings.Tools.Visit],
			Args:     settings.Visit.Args,
			Timeout:  settings.GetVisitTimeout(),
		},
		Converter:    tools[settings.Tools.Convert],
		Movies:       newMaker(exec),
		BatchSize:    settings.GetBatchSize(),
		MovieFormats: settings.Movie.Formats,
	}
}

// newMaker returns the movie maker; ffmpeg is optional.
func newMaker(exec tactile.Executor) *movie.Maker {
	m := &movie.Maker{
		Executor: exec,
		Delay:    settings.GetFrameDelay(),
		FPS:      settings.Movie.FPS,
		Timeout:  settings.GetMovieTimeout(),
	}
	if path, ok := tactile.LocateOne(settings.Tools.Ffmpeg, settings.Tools.SearchPaths); ok {
		m.Ffmpeg = path
	}
	return m
}

// confirm asks a yes/no question on in.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func absPath(flag, path string) (string, error) {
	if path == "" {
		return "", usageErrorf("--%s is required", flag)
	}
	abs, err := filepath.Abs(os.ExpandEnv(path))
	if err != nil {
		return "", usageError{err}
	}
	return abs, nil
}

func requireDir(flag, path string) (string, error) {
	abs, err := absPath(flag, path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", usageErrorf("--%s: %s is not a directory", flag, path)
	}
	return abs, nil
}
