// Package logging provides categorised structured logging for meanie3d.
// Every subsystem logs through a category so that noisy parts of the pipeline
// (subprocess output, host script generation) can be silenced independently.
// Output goes to stderr and, once an output directory is known, to a log file
// under <output>/log.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // CLI startup, settings
	CategoryConfig    Category = "config"    // Run configuration parsing
	CategoryTactile   Category = "tactile"   // External tool execution
	CategoryTracking  Category = "tracking"  // Detection/tracking sequencing
	CategoryVisit     Category = "visit"     // Host script generation and runs
	CategoryVisualise Category = "visualise" // Frame bookkeeping for visualisation
	CategoryMovie     Category = "movie"     // Movie assembly
	CategoryStore     Category = "store"     // Run ledger
	CategoryWatch     Category = "watch"     // Source directory watcher
	CategoryReport    Category = "report"    // PDF reports
)

// Options configures Initialize.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is "console" or "json" for the stderr stream.
	Format string
	// File, when set, receives a JSON copy of every entry.
	File string
	// Categories disables categories mapped to false. Missing categories are enabled.
	Categories map[string]bool
}

// Logger is a printf-style logger bound to one category.
// The zero value discards everything.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	root       = zap.NewNop()
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
	logFile    *os.File
)

// Initialize builds the root zap logger from opts. It may be called again
// (e.g. after the output directory is known) and replaces the previous setup.
func Initialize(opts Options) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEnc zapcore.Encoder
	if strings.EqualFold(opts.Format, "json") {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	} else {
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		consoleEnc = zapcore.NewConsoleEncoder(devCfg)
	}

	mu.Lock()
	defer mu.Unlock()

	level.SetLevel(lvl)
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(consoleSyncer{os.Stderr}), level),
	}

	var f *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
	}

	_ = root.Sync()
	closeFileLocked()
	logFile = f
	root = zap.New(zapcore.NewTee(cores...))
	categories = copyCategories(opts.Categories)
	loggers = make(map[Category]*Logger)
	return nil
}

// Replace swaps the root logger, typically for tests using zaptest/observer.
// The returned function restores the previous logger.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	prev, prevCats := root, categories
	root = l
	categories = nil
	loggers = make(map[Category]*Logger)
	mu.Unlock()

	return func() {
		mu.Lock()
		root, categories = prev, prevCats
		loggers = make(map[Category]*Logger)
		mu.Unlock()
	}
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// SetLevel changes the level of all loggers at runtime.
func SetLevel(lvl zapcore.Level) {
	level.SetLevel(lvl)
}

// Level returns the current level.
func Level() zapcore.Level {
	return level.Level()
}

// Sync flushes buffered entries and closes the log file.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	err := root.Sync()
	closeFileLocked()
	return err
}

// consoleSyncer ignores the errors fsync reports for pipes and terminals.
type consoleSyncer struct{ *os.File }

func (c consoleSyncer) Sync() error {
	err := c.File.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

func closeFileLocked() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func copyCategories(in map[string]bool) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    root.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// With returns a logger carrying additional structured key/value pairs.
func (l *Logger) With(keysAndValues ...any) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

func (l *Logger) Debug(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Debugf(format, args...)
	}
}

func (l *Logger) Info(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Infof(format, args...)
	}
}

func (l *Logger) Warn(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Warnf(format, args...)
	}
}

func (l *Logger) Error(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Errorf(format, args...)
	}
}

// =============================================================================
// Category helpers
// =============================================================================

func Boot(format string, args ...any)      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...any) { Get(CategoryBoot).Debug(format, args...) }

func ConfigDebug(format string, args ...any) { Get(CategoryConfig).Debug(format, args...) }

func TactileDebug(format string, args ...any) { Get(CategoryTactile).Debug(format, args...) }
func TactileWarn(format string, args ...any)  { Get(CategoryTactile).Warn(format, args...) }

func Tracking(format string, args ...any)      { Get(CategoryTracking).Info(format, args...) }
func TrackingDebug(format string, args ...any) { Get(CategoryTracking).Debug(format, args...) }
func TrackingWarn(format string, args ...any)  { Get(CategoryTracking).Warn(format, args...) }
func TrackingError(format string, args ...any) { Get(CategoryTracking).Error(format, args...) }

func Visit(format string, args ...any)      { Get(CategoryVisit).Info(format, args...) }
func VisitDebug(format string, args ...any) { Get(CategoryVisit).Debug(format, args...) }
func VisitError(format string, args ...any) { Get(CategoryVisit).Error(format, args...) }

func Visualise(format string, args ...any)      { Get(CategoryVisualise).Info(format, args...) }
func VisualiseDebug(format string, args ...any) { Get(CategoryVisualise).Debug(format, args...) }
func VisualiseWarn(format string, args ...any)  { Get(CategoryVisualise).Warn(format, args...) }

func Movie(format string, args ...any)      { Get(CategoryMovie).Info(format, args...) }
func MovieDebug(format string, args ...any) { Get(CategoryMovie).Debug(format, args...) }
func MovieWarn(format string, args ...any)  { Get(CategoryMovie).Warn(format, args...) }

func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...any)  { Get(CategoryStore).Warn(format, args...) }

func Watch(format string, args ...any)      { Get(CategoryWatch).Info(format, args...) }
func WatchDebug(format string, args ...any) { Get(CategoryWatch).Debug(format, args...) }
func WatchWarn(format string, args ...any)  { Get(CategoryWatch).Warn(format, args...) }

func Report(format string, args ...any) { Get(CategoryReport).Info(format, args...) }

// =============================================================================
// Timers
// =============================================================================

// Timer measures one operation and logs its duration when stopped.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s done (%.2f seconds)", t.op, elapsed.Seconds())
	return elapsed
}
