// Package feed carries per-feed settings: how the source system formats
// dates, which sex codes it emits, and which cohort its patients belong to.
package feed

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Name string `yaml:"name" json:"name"`
	// DateLayout is a Go reference layout, e.g. "02/01/2006".
	DateLayout     string   `yaml:"date_layout" json:"date_layout"`
	SexValues      []string `yaml:"sex_values" json:"sex_values"`
	RequiredFields []string `yaml:"required_fields" json:"required_fields"`
}

// Load reads a feed config from path, falling back to defaults when path is
// empty.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Default(), err
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Name == "" {
		return Config{}, errors.New("feed config missing name")
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = Default().DateLayout
	}
	if len(cfg.SexValues) == 0 {
		cfg.SexValues = Default().SexValues
	}
	if len(cfg.RequiredFields) == 0 {
		cfg.RequiredFields = Default().RequiredFields
	}
	return cfg, nil
}

func Default() Config {
	return Config{
		Name:           "default",
		DateLayout:     "2006-01-02",
		SexValues:      []string{"male", "female", "other", "unknown"},
		RequiredFields: []string{"nhs_number", "dob"},
	}
}

// RequiresField reports whether the feed marks a field as required for a
// complete record. Missing required fields are logged, never rejected.
func (c Config) RequiresField(name string) bool {
	for _, f := range c.RequiredFields {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}
