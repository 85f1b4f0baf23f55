// Package config loads runner defaults from the optional .lockpin.yaml
// file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cjolowicz/lockpin/poetry"
)

// Defaults are the session options applied to every defined task unless the
// task overrides them.
type Defaults struct {
	Pythons       []string          `yaml:"pythons,omitempty"`
	Reuse         bool              `yaml:"reuse"`
	Backend       string            `yaml:"backend,omitempty"`
	BackendParams map[string]string `yaml:"backend_params,omitempty"`
	Tags          []string          `yaml:"tags,omitempty"`
	Format        string            `yaml:"distribution_format,omitempty"`
}

// Default returns the built-in defaults.
func Default() Defaults {
	return Defaults{
		Backend: "venv",
		Format:  string(poetry.Wheel),
	}
}

// Load reads and parses a defaults file.
func Load(path string) (Defaults, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading runner config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing runner config: %w", err)
	}

	// Backfill values an explicit empty field cleared.
	if cfg.Backend == "" {
		cfg.Backend = "venv"
	}
	if cfg.Format == "" {
		cfg.Format = string(poetry.Wheel)
	}

	if err := poetry.DistributionFormat(cfg.Format).Validate(); err != nil {
		return cfg, fmt.Errorf("runner config: %w", err)
	}

	return cfg, nil
}
