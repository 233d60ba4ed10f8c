package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the meanie3d tool settings: where the external binaries live,
// how child processes are run and where logs and the run ledger go.
type Config struct {
	// Home is the meanie3D installation prefix ($MEANIE3D_HOME).
	Home string `yaml:"home"`

	Tools     ToolsConfig     `yaml:"tools"`
	Execution ExecutionConfig `yaml:"execution"`
	Visit     VisitConfig     `yaml:"visit"`
	Movie     MovieConfig     `yaml:"movie"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ToolsConfig names the external executables.
type ToolsConfig struct {
	Detect     string `yaml:"detect"`
	Track      string `yaml:"track"`
	Convert    string `yaml:"convert"`
	TrackStats string `yaml:"trackstats"`
	Visit      string `yaml:"visit"`
	Ffmpeg     string `yaml:"ffmpeg"`

	// SearchPaths are tried before $PATH when locating tools.
	SearchPaths []string `yaml:"search_paths"`
}

// VisitConfig configures how the visualisation host is launched.
type VisitConfig struct {
	// Args precede the script path, e.g. -cli -nowin -s <script>.
	Args []string `yaml:"args"`

	// BatchSize is the number of frames rendered by one host process.
	BatchSize int `yaml:"batch_size"`

	// Timeout for a single host batch.
	Timeout string `yaml:"timeout"`
}

// MovieConfig configures movie assembly.
type MovieConfig struct {
	// FrameDelay between gif frames, e.g. "50ms".
	FrameDelay string `yaml:"frame_delay"`

	// FPS for avi and ffmpeg encoded movies.
	FPS int `yaml:"fps"`

	// Formats are the default container extensions.
	Formats []string `yaml:"formats"`

	// Timeout for one ffmpeg invocation.
	Timeout string `yaml:"timeout"`
}

// LedgerConfig configures the SQLite run ledger.
type LedgerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path overrides <output>/log/ledger.db.
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Tools: ToolsConfig{
			Detect:     "meanie3D-detect",
			Track:      "meanie3D-track",
			Convert:    "meanie3D-cfm2vtk",
			TrackStats: "meanie3D-trackstats",
			Visit:      "visit",
			Ffmpeg:     "ffmpeg",
			SearchPaths: []string{
				"/usr/local/bin",
				"/Applications/VisIt.app/Contents/Resources/bin",
			},
		},

		Execution: ExecutionConfig{
			DefaultTimeout: "2h",
			LibraryPath:    "/usr/local/lib",
			AllowedEnvVars: []string{
				"PATH", "HOME", "USER", "TMPDIR", "LANG",
				"DISPLAY", "PYTHONPATH", "NETCDF_HOME",
			},
			MaxOutputBytes: 16 << 20,
		},

		Visit: VisitConfig{
			Args:      []string{"-cli", "-nowin", "-s"},
			BatchSize: 100,
			Timeout:   "4h",
		},

		Movie: MovieConfig{
			FrameDelay: "50ms",
			FPS:        10,
			Formats:    []string{"gif", "m4v"},
			Timeout:    "30m",
		},

		Ledger: LedgerConfig{
			Enabled: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultSettingsPath returns $MEANIE3D_HOME/.meanie3d/config.yaml, falling
// back to the user's home directory.
func DefaultSettingsPath() string {
	if home := os.Getenv("MEANIE3D_HOME"); home != "" {
		return filepath.Join(home, ".meanie3d", "config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".meanie3d", "config.yaml")
	}
	return filepath.Join(".meanie3d", "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults if the settings file doesn't exist
		data = nil
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if home := os.Getenv("MEANIE3D_HOME"); home != "" {
		c.Home = home
		c.Tools.SearchPaths = prependUnique(c.Tools.SearchPaths, filepath.Join(home, "bin"))
		c.Execution.LibraryPath = filepath.Join(home, "lib")
	}
	if visit := os.Getenv("MEANIE3D_VISIT"); visit != "" {
		c.Tools.Visit = visit
	}
	if ffmpeg := os.Getenv("MEANIE3D_FFMPEG"); ffmpeg != "" {
		c.Tools.Ffmpeg = ffmpeg
	}
	if db := os.Getenv("MEANIE3D_DB"); db != "" {
		c.Ledger.Path = db
	}
	if lvl := os.Getenv("MEANIE3D_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

func prependUnique(list []string, item string) []string {
	out := []string{item}
	for _, s := range list {
		if s != item {
			out = append(out, s)
		}
	}
	return out
}

// GetExecutionTimeout returns the default execution timeout as a duration.
func (c *Config) GetExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.DefaultTimeout)
	if err != nil {
		return 2 * time.Hour
	}
	return d
}

// GetVisitTimeout returns the timeout for one host batch.
func (c *Config) GetVisitTimeout() time.Duration {
	d, err := time.ParseDuration(c.Visit.Timeout)
	if err != nil {
		return 4 * time.Hour
	}
	return d
}

// GetMovieTimeout returns the timeout for one ffmpeg run.
func (c *Config) GetMovieTimeout() time.Duration {
	d, err := time.ParseDuration(c.Movie.Timeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetFrameDelay returns the gif frame delay.
func (c *Config) GetFrameDelay() time.Duration {
	d, err := time.ParseDuration(c.Movie.FrameDelay)
	if err != nil || d <= 0 {
		return 50 * time.Millisecond
	}
	return d
}

// GetBatchSize returns the host batch size, at least 1.
func (c *Config) GetBatchSize() int {
	if c.Visit.BatchSize < 1 {
		return 100
	}
	return c.Visit.BatchSize
}

// ValidMovieFormats lists the movie containers meanie3d can produce.
var ValidMovieFormats = []string{"gif", "avi", "m4v", "mp4"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Tools.Detect == "" || c.Tools.Track == "" || c.Tools.Convert == "" {
		return fmt.Errorf("tool names must not be empty (detect=%q track=%q convert=%q)",
			c.Tools.Detect, c.Tools.Track, c.Tools.Convert)
	}
	if c.Visit.BatchSize < 0 {
		return fmt.Errorf("visit.batch_size must not be negative: %d", c.Visit.BatchSize)
	}
	if c.Movie.FPS < 0 {
		return fmt.Errorf("movie.fps must not be negative: %d", c.Movie.FPS)
	}
	for _, f := range c.Movie.Formats {
		if !IsValidMovieFormat(f) {
			return fmt.Errorf("invalid movie format: %s (valid: %v)", f, ValidMovieFormats)
		}
	}
	for name, value := range map[string]string{
		"execution.default_timeout": c.Execution.DefaultTimeout,
		"visit.timeout":             c.Visit.Timeout,
		"movie.timeout":             c.Movie.Timeout,
		"movie.frame_delay":         c.Movie.FrameDelay,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	if _, err := c.Logging.ParseLevel(); err != nil {
		return err
	}
	return nil
}

// IsValidMovieFormat reports whether ext (without dot) is supported.
func IsValidMovieFormat(ext string) bool {
	for _, f := range ValidMovieFormats {
		if f == ext {
			return true
		}
	}
	return false
}
