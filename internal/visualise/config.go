// Package visualise renders source data and tracked clusters with VisIt and
// assembles the images into movies.
package visualise

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"meanie3d/internal/config"
	"meanie3d/internal/visit"
)

// Flag is a boolean that also accepts 0/1 and "true"/"false".
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = n != 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid flag %q", s)
		}
		*f = Flag(v)
		return nil
	}
	return fmt.Errorf("invalid flag %s", data)
}

// Config is the postprocessing.clusters section.
type Config struct {
	ClusterDirectory string `json:"cluster_directory,omitempty"`

	Variables              []string  `json:"variables,omitempty"`
	LowerThresholds        []float64 `json:"lower_thresholds,omitempty"`
	UpperThresholds        []float64 `json:"upper_thresholds,omitempty"`
	VarMin                 []float64 `json:"var_min,omitempty"`
	VarMax                 []float64 `json:"var_max,omitempty"`
	ColorTables            []string  `json:"colortables,omitempty"`
	ColorTablesInvertFlags []Flag    `json:"colortables_invert_flags,omitempty"`
	Opacity                []float64 `json:"opacity,omitempty"`

	GridExtent   string              `json:"grid_extent,omitempty"`
	Dimensions   int                 `json:"dimensions,omitempty"`
	ScaleFactorZ float64             `json:"scale_factor_z,omitempty"`
	Perspectives []visit.Perspective `json:"perspectives,omitempty"`

	ConversionParams        string `json:"conversion_params,omitempty"`
	WithDisplacementVectors Flag   `json:"with_displacement_vectors,omitempty"`
	WithDatetime            Flag   `json:"with_datetime,omitempty"`
	WithBackgroundGradient  Flag   `json:"with_background_gradient,omitempty"`
	WithTopography          Flag   `json:"with_topography,omitempty"`
	WithSourceBackground    Flag   `json:"with_source_background,omitempty"`
	CreateSourceMovie       Flag   `json:"create_source_movie,omitempty"`
	CreateClustersMovie     Flag   `json:"create_clusters_movie,omitempty"`

	// TopographyFile and TopographyVariable name the elevation data drawn
	// with with_topography.
	TopographyFile     string `json:"topography_file,omitempty"`
	TopographyVariable string `json:"topography_variable,omitempty"`

	MovieFormats   []string       `json:"movie_formats,omitempty"`
	ClusterOpacity float64        `json:"cluster_opacity,omitempty"`
	Plot           map[string]any `json:"plot,omitempty"`
	Annotation     map[string]any `json:"annotation,omitempty"`
	BatchSize      int            `json:"batch_size,omitempty"`

	// Set by the caller.
	TimeVariable    string `json:"-"`
	SourceDirectory string `json:"-"`
	OutputDir       string `json:"-"`
	Resume          bool   `json:"-"`
}

// aliases maps key spellings found in older configuration files to the
// current ones.
var aliases = map[string]string{
	"lower_tresholds":           "lower_thresholds",
	"upper_tresholds":           "upper_thresholds",
	"with_source_backround":     "with_source_background",
	"SCALE_FACTOR_Z":            "scale_factor_z",
	"PERSPECTIVES":              "perspectives",
	"WITH_DISPLACEMENT_VECTORS": "with_displacement_vectors",
}

// Parse decodes a clusters section, accepting the older key spellings, and
// applies defaults.
func Parse(data []byte) (*Config, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid visualisation configuration: %w", err)
	}
	for old, current := range aliases {
		v, ok := doc[old]
		if !ok {
			continue
		}
		if _, exists := doc[current]; !exists {
			doc[current] = v
		}
		delete(doc, old)
	}
	normalised, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(normalised, cfg); err != nil {
		return nil, fmt.Errorf("invalid visualisation configuration: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a standalone visualisation configuration file. A full run
// configuration is accepted too, in which case its
// postprocessing.clusters section is used.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if run, err := config.ParseRunConfig(data); err == nil {
		if cfg, err := FromRunConfig(run); cfg != nil || err != nil {
			return cfg, err
		}
	}
	return Parse(data)
}

// FromRunConfig returns the clusters section of a run configuration, or nil
// when there is none. The time coordinate named in the data section is
// carried along for the frame labels.
func FromRunConfig(run *config.RunConfig) (*Config, error) {
	if run.Postprocessing == nil || len(run.Postprocessing.Clusters) == 0 {
		return nil, nil
	}
	cfg, err := Parse(run.Postprocessing.Clusters)
	if err != nil {
		return nil, err
	}
	cfg.TimeVariable = run.Data.TimeVariable
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GridExtent == "" {
		c.GridExtent = visit.ExtentNational
	}
	if c.Dimensions == 0 {
		c.Dimensions = 3
	}
	if c.ScaleFactorZ == 0 {
		c.ScaleFactorZ = 1
	}
	if c.ClusterOpacity == 0 {
		c.ClusterOpacity = 1
	}
	if c.TopographyVariable == "" {
		c.TopographyVariable = "z"
	}
}

// Validate checks the per-variable lists and the enumerations.
func (c *Config) Validate() error {
	n := len(c.Variables)
	lists := map[string]int{
		"lower_thresholds":         len(c.LowerThresholds),
		"upper_thresholds":         len(c.UpperThresholds),
		"var_min":                  len(c.VarMin),
		"var_max":                  len(c.VarMax),
		"colortables":              len(c.ColorTables),
		"colortables_invert_flags": len(c.ColorTablesInvertFlags),
		"opacity":                  len(c.Opacity),
	}
	for _, name := range []string{"lower_thresholds", "upper_thresholds", "var_min", "var_max", "colortables", "colortables_invert_flags", "opacity"} {
		if l := lists[name]; l != 0 && l < n {
			return fmt.Errorf("%s has %d entries for %d variables", name, l, n)
		}
	}
	if (len(c.LowerThresholds) == 0) != (len(c.UpperThresholds) == 0) {
		return fmt.Errorf("lower_thresholds and upper_thresholds must be given together")
	}
	if c.Dimensions != 2 && c.Dimensions != 3 {
		return fmt.Errorf("dimensions must be 2 or 3, got %d", c.Dimensions)
	}
	view, err := visit.RadolanView(c.GridExtent)
	if err != nil {
		return err
	}
	for i, p := range c.Perspectives {
		if _, err := p.Apply(view, c.ScaleFactorZ); err != nil {
			return fmt.Errorf("perspective %d: %w", i+1, err)
		}
	}
	for _, f := range c.MovieFormats {
		if !config.IsValidMovieFormat(f) {
			return fmt.Errorf("unsupported movie format %q", f)
		}
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	if c.WithTopography && c.TopographyFile == "" {
		return fmt.Errorf("with_topography requires topography_file")
	}
	return nil
}

// SourceVariable is the plotting setup of one source variable.
type SourceVariable struct {
	Name       string
	ColorTable string
	Invert     bool
	Opacity    float64
	Min, Max   float64
	HasRange   bool
	Lower      float64
	Upper      float64
	Threshold  bool
}

// Source returns the setup of variable i.
func (c *Config) Source(i int) SourceVariable {
	v := SourceVariable{Name: c.Variables[i], ColorTable: "hot_desaturated", Opacity: 1}
	if i < len(c.ColorTables) {
		v.ColorTable = c.ColorTables[i]
	}
	if i < len(c.ColorTablesInvertFlags) {
		v.Invert = bool(c.ColorTablesInvertFlags[i])
	}
	if i < len(c.Opacity) {
		v.Opacity = c.Opacity[i]
	}
	if i < len(c.VarMin) && i < len(c.VarMax) {
		v.Min, v.Max, v.HasRange = c.VarMin[i], c.VarMax[i], true
	}
	if i < len(c.LowerThresholds) && i < len(c.UpperThresholds) {
		v.Lower, v.Upper, v.Threshold = c.LowerThresholds[i], c.UpperThresholds[i], true
	}
	return v
}

// NumPerspectives is the number of perspectives images are rendered from;
// zero means the default view only. 2D rendering has no perspectives.
func (c *Config) NumPerspectives() int {
	if c.Dimensions == 2 {
		return 0
	}
	return len(c.Perspectives)
}
