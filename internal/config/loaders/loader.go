// Package loaders composes configuration sources. EnvLoader layers
// environment variables over a YAML file and can watch that file for edits.
package loaders

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/sonolive/internal/config"
	"github.com/ahrav/sonolive/internal/config/fileloader"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

// DefaultEnvPrefix namespaces the environment overrides, e.g.
// SONOLIVE_LIDARR_API_KEY sets lidarr.api_key.
const DefaultEnvPrefix = "SONOLIVE"

var _ config.Loader = (*EnvLoader)(nil)

// EnvLoader resolves configuration as defaults, then the file, then the
// environment.
type EnvLoader struct {
	file   *fileloader.FileLoader
	prefix string
	logger *logger.Logger
}

// NewEnvLoader creates a loader over the file at path. An empty path means
// defaults plus environment only.
func NewEnvLoader(path, prefix string, logger *logger.Logger) *EnvLoader {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvLoader{
		file:   fileloader.NewFileLoader(path),
		prefix: prefix,
		logger: logger.With("component", "config"),
	}
}

// Load implements config.Loader.
func (l *EnvLoader) Load(ctx context.Context) (*config.Config, error) {
	base, err := l.file.Parse()
	if err != nil {
		return nil, err
	}

	// Round-tripping the file result through viper gives every key a value,
	// which is what lets AutomaticEnv see overrides for keys the file omits.
	data, err := yaml.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to encode base config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to read base config: %w", err)
	}
	v.SetEnvPrefix(l.prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg config.Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the configuration whenever the file changes and hands every
// valid result to onChange. Invalid edits are logged and skipped. It blocks
// until ctx is cancelled.
func (l *EnvLoader) Watch(ctx context.Context, onChange func(*config.Config)) error {
	path := l.file.Path()
	if path == "" {
		<-ctx.Done()
		return nil
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := l.Load(ctx)
			if err != nil {
				l.logger.Warn(ctx, "config reload rejected", "path", path, "error", err)
				continue
			}
			l.logger.Info(ctx, "config reloaded", "path", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn(ctx, "config watcher error", "error", err)
		}
	}
}
