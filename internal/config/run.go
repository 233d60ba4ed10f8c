package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"meanie3d/internal/keypath"
	"meanie3d/internal/logging"
)

// RunConfig is the run configuration passed with -c. The file format is the
// JSON document users of the meanie3D tools already write; YAML is accepted
// for files ending in .yaml or .yml.
type RunConfig struct {
	Description    string                 `json:"description,omitempty"`
	Data           DataSection            `json:"data"`
	Scales         ScaleList              `json:"scales,omitempty"`
	Detection      *DetectionSection      `json:"detection,omitempty"`
	Tracking       *TrackingSection       `json:"tracking,omitempty"`
	Postprocessing *PostprocessingSection `json:"postprocessing,omitempty"`

	// Set by the command line, never read from the file.
	SourceDirectory string `json:"-"`
	OutputDir       string `json:"-"`
	ConfigFile      string `json:"-"`
	Resume          bool   `json:"-"`
	Scale           string `json:"-"`

	raw map[string]any
}

// DataSection describes the input variables.
type DataSection struct {
	Variables     []string `json:"variables,omitempty"`
	VTKDimensions string   `json:"vtk_dimensions,omitempty"`
	TimeVariable  string   `json:"time_variable,omitempty"`
}

// DetectionSection holds the meanie3D-detect parameters.
type DetectionSection struct {
	Params         string `json:"meanie3D-detect"`
	InlineTracking bool   `json:"inline_tracking,omitempty"`
}

// TrackingSection holds the meanie3D-track parameters.
type TrackingSection struct {
	Params string `json:"meanie3D-track"`
	Inline bool   `json:"inline,omitempty"`
}

// PostprocessingSection holds the optional track statistics and
// visualisation steps. Clusters is decoded by the visualise package.
type PostprocessingSection struct {
	Tracks   *TracksSection  `json:"tracks,omitempty"`
	Clusters json.RawMessage `json:"clusters,omitempty"`
}

// TracksSection holds the meanie3D-trackstats parameters.
type TracksSection struct {
	Params string `json:"meanie3D-trackstats"`
	Plot   bool   `json:"plot,omitempty"`
}

// ScaleList accepts scales written as numbers or strings, or a single value.
type ScaleList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *ScaleList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	var items []json.RawMessage
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
	} else {
		items = []json.RawMessage{data}
	}

	out := make(ScaleList, 0, len(items))
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			out = append(out, strings.TrimSpace(str))
			continue
		}
		var num json.Number
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		if err := dec.Decode(&num); err != nil {
			return fmt.Errorf("invalid scale %s", string(item))
		}
		out = append(out, num.String())
	}
	*s = out
	return nil
}

// ParseScales splits a comma separated -s argument.
func ParseScales(arg string) (ScaleList, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, nil
	}
	var out ScaleList
	for _, part := range strings.Split(arg, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := strconv.ParseFloat(part, 64); err != nil {
			return nil, fmt.Errorf("invalid scale %q: %w", part, err)
		}
		out = append(out, part)
	}
	return out, nil
}

// LoadRunConfig reads a run configuration. Environment variables in path are
// expanded.
func LoadRunConfig(path string) (*RunConfig, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run configuration: %w", err)
	}

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run configuration %s: %w", path, err)
		}
	}

	cfg, err := ParseRunConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run configuration %s: %w", path, err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		cfg.ConfigFile = abs
	} else {
		cfg.ConfigFile = path
	}
	logging.ConfigDebug("Loaded run configuration %s (scales=%v)", cfg.ConfigFile, cfg.Scales)
	return cfg, nil
}

// ParseRunConfig decodes a JSON run configuration.
func ParseRunConfig(data []byte) (*RunConfig, error) {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	cfg := &RunConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.raw = raw
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// Validate checks the run configuration for internal consistency.
func (c *RunConfig) Validate() error {
	for _, s := range c.Scales {
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("invalid scale %q in configuration", s)
		}
	}
	if c.Detection != nil && strings.TrimSpace(c.Detection.Params) == "" {
		return fmt.Errorf("detection.meanie3D-detect must not be empty")
	}
	if len(c.Postprocessing.clusters()) > 0 && !json.Valid(c.Postprocessing.clusters()) {
		return fmt.Errorf("postprocessing.clusters is not valid JSON")
	}
	return nil
}

func (p *PostprocessingSection) clusters() json.RawMessage {
	if p == nil {
		return nil
	}
	return p.Clusters
}

// HasDetection reports whether a detection step is configured.
func (c *RunConfig) HasDetection() bool { return c.Detection != nil }

// HasTracking reports whether a separate tracking step is configured.
func (c *RunConfig) HasTracking() bool { return c.Tracking != nil }

// TrackingInline reports whether tracking happens inside meanie3D-detect
// (previous cluster file passed with -p) instead of a meanie3D-track run.
func (c *RunConfig) TrackingInline() bool {
	if c.Detection != nil && c.Detection.InlineTracking {
		return true
	}
	return c.Tracking != nil && c.Tracking.Inline
}

// HasPostprocessing reports whether any postprocessing step is configured.
func (c *RunConfig) HasPostprocessing() bool {
	if c.Postprocessing == nil {
		return false
	}
	return c.Postprocessing.Tracks != nil || len(c.Postprocessing.Clusters) > 0
}

// Raw returns the decoded document for key path access.
func (c *RunConfig) Raw() map[string]any {
	if c.raw == nil {
		c.raw = map[string]any{}
	}
	return c.raw
}

// Get returns the value at a dotted key path, e.g. "detection.meanie3D-detect".
func (c *RunConfig) Get(path string) (any, error) {
	return keypath.Get(c.Raw(), path)
}

// Set writes a value at a dotted key path and re-decodes the typed sections
// so both views stay in step. Runtime fields are preserved.
func (c *RunConfig) Set(path string, value any) error {
	if err := keypath.Set(c.Raw(), path, value); err != nil {
		return err
	}
	data, err := json.Marshal(c.raw)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	updated, err := ParseRunConfig(data)
	if err != nil {
		return err
	}
	updated.SourceDirectory = c.SourceDirectory
	updated.OutputDir = c.OutputDir
	updated.ConfigFile = c.ConfigFile
	updated.Resume = c.Resume
	updated.Scale = c.Scale
	*c = *updated
	return nil
}

// Save writes the raw document back, as YAML for .yaml/.yml paths and
// indented JSON otherwise.
func (c *RunConfig) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c.Raw())
	} else {
		data, err = json.MarshalIndent(c.Raw(), "", "    ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to marshal run configuration: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run configuration: %w", err)
	}
	return nil
}

// EffectiveScales returns the command line scales when given, otherwise the
// scales from the file.
func (c *RunConfig) EffectiveScales(override ScaleList) ScaleList {
	if len(override) > 0 {
		return override
	}
	return c.Scales
}
