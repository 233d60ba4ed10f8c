package config

import (
	"fmt"
	"strings"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // console, json
	File       string          `yaml:"file" json:"file,omitempty"`             // defaults to <output>/log/meanie3d.log
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories not mentioned are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// ParseLevel normalises Level, rejecting unknown names.
func (c *LoggingConfig) ParseLevel() (string, error) {
	lvl := strings.ToLower(strings.TrimSpace(c.Level))
	switch lvl {
	case "":
		return "info", nil
	case "debug", "info", "warn", "error":
		return lvl, nil
	case "warning":
		return "warn", nil
	}
	return "", fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Level)
}
