package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed template.yaml
var template []byte

// ErrConfigExists is returned by WriteTemplate when the file exists and
// overwriting was not requested.
var ErrConfigExists = errors.New("configuration file already exists")

// Template returns the commented configuration template.
func Template() []byte {
	out := make([]byte, len(template))
	copy(out, template)
	return out
}

// ParseYAML decodes a configuration document over the defaults and
// validates it.
func ParseYAML(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	normalizeSites(cfg)
	if err := cfg.ValidateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteTemplate writes the template to path, creating parent directories.
// The template is parsed before writing so a broken template never lands
// on disk.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s (use -f to overwrite)", ErrConfigExists, path)
		}
	}

	if _, err := ParseYAML(template); err != nil {
		return fmt.Errorf("invalid config template: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, template, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
