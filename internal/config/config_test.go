package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// TOOL SETTINGS TESTS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"MEANIE3D_HOME", "MEANIE3D_VISIT", "MEANIE3D_FFMPEG", "MEANIE3D_DB", "MEANIE3D_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Tools.Detect != "meanie3D-detect" {
		t.Errorf("expected Detect=meanie3D-detect, got %s", cfg.Tools.Detect)
	}
	if cfg.Visit.BatchSize != 100 {
		t.Errorf("expected BatchSize=100, got %d", cfg.Visit.BatchSize)
	}
	if len(cfg.Visit.Args) != 3 || cfg.Visit.Args[2] != "-s" {
		t.Errorf("unexpected visit args %v", cfg.Visit.Args)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tools.Convert != "meanie3D-cfm2vtk" {
		t.Errorf("expected default convert tool, got %s", cfg.Tools.Convert)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Tools.Visit = "/opt/visit/bin/visit"
	cfg.Visit.BatchSize = 25
	cfg.Movie.Formats = []string{"gif", "avi"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Tools.Visit != "/opt/visit/bin/visit" {
		t.Errorf("expected Visit=/opt/visit/bin/visit, got %s", loaded.Tools.Visit)
	}
	if loaded.Visit.BatchSize != 25 {
		t.Errorf("expected BatchSize=25, got %d", loaded.Visit.BatchSize)
	}
	if len(loaded.Movie.Formats) != 2 || loaded.Movie.Formats[1] != "avi" {
		t.Errorf("unexpected formats %v", loaded.Movie.Formats)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("visit:\n  batch_size: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Visit.BatchSize != 7 {
		t.Errorf("expected BatchSize=7, got %d", cfg.Visit.BatchSize)
	}
	if cfg.Tools.Track != "meanie3D-track" {
		t.Errorf("expected default track tool, got %s", cfg.Tools.Track)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("visit: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Movie.Formats = []string{"webm"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unsupported movie format")
	}

	cfg = DefaultConfig()
	cfg.Visit.Timeout = "forever"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for bad duration")
	}

	cfg = DefaultConfig()
	cfg.Logging.Level = "chatty"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for bad log level")
	}

	cfg = DefaultConfig()
	cfg.Tools.Detect = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty tool name")
	}
}

func TestConfig_DurationFallbacks(t *testing.T) {
	cfg := &Config{}
	if got := cfg.GetExecutionTimeout(); got != 2*time.Hour {
		t.Errorf("expected 2h fallback, got %v", got)
	}
	if got := cfg.GetVisitTimeout(); got != 4*time.Hour {
		t.Errorf("expected 4h fallback, got %v", got)
	}
	if got := cfg.GetFrameDelay(); got != 50*time.Millisecond {
		t.Errorf("expected 50ms fallback, got %v", got)
	}
	if got := cfg.GetBatchSize(); got != 100 {
		t.Errorf("expected batch size 100, got %d", got)
	}

	cfg.Execution.DefaultTimeout = "90s"
	if got := cfg.GetExecutionTimeout(); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	c := LoggingConfig{}
	if !c.IsCategoryEnabled("visit") {
		t.Error("categories should default to enabled")
	}
	c.Categories = map[string]bool{"visit": false}
	if c.IsCategoryEnabled("visit") {
		t.Error("visit should be disabled")
	}
	if !c.IsCategoryEnabled("movie") {
		t.Error("unlisted category should be enabled")
	}
}
