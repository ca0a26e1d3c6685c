package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader loads and parses runner configuration files.
type Loader struct{}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFromFile loads and parses a runner configuration from a YAML file.
// Returns the validated RunnerConfig or an error.
// File errors are wrapped with context (use os.IsNotExist to check for missing file).
func (l *Loader) LoadFromFile(path string) (*RunnerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromBytes parses runner configuration from raw YAML bytes.
// Returns the validated RunnerConfig or an error.
// Empty data (len==0) returns ErrConfigEmpty.
func (l *Loader) LoadFromBytes(data []byte) (*RunnerConfig, error) {
	if len(data) == 0 {
		return nil, ErrConfigEmpty
	}

	var cfg RunnerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	validator := NewValidator()
	if err := validator.Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
