package config

// ExecutionConfig configures how external tools are run.
type ExecutionConfig struct {
	// Default timeout for commands
	DefaultTimeout string `yaml:"default_timeout" json:"default_timeout,omitempty"`

	// LibraryPath is prepended to DYLD_LIBRARY_PATH / LD_LIBRARY_PATH of
	// every child so the meanie3D binaries find their shared libraries.
	LibraryPath string `yaml:"library_path" json:"library_path,omitempty"`

	// Environment variables to pass
	AllowedEnvVars []string `yaml:"allowed_env_vars" json:"allowed_env_vars,omitempty"`

	// MaxOutputBytes caps captured stdout/stderr per stream.
	MaxOutputBytes int64 `yaml:"max_output_bytes" json:"max_output_bytes,omitempty"`
}
