// Package fileloader reads the service configuration from a YAML file.
package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/sonolive/internal/config"
)

var _ config.Loader = (*FileLoader)(nil)

// FileLoader loads configuration from a file on disk. Keys missing from the
// file keep their defaults.
type FileLoader struct {
	// path is the filesystem path to the configuration file. An empty path
	// yields the defaults.
	path string
}

// NewFileLoader creates a new FileLoader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Path returns the file being loaded.
func (l *FileLoader) Path() string { return l.path }

// Load reads and parses the configuration file, applies defaults and
// validates the result.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	cfg, err := l.Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads the file over the defaults without validating. Other loaders
// layer their overrides on its result.
func (l *FileLoader) Parse() (*config.Config, error) {
	cfg := config.Default()
	if l.path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
