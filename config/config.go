// Package config loads the project descriptor that drives a setup run.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

type (
	Config struct {
		ProjectName    string            `json:"project_name" yaml:"project_name"`
		ProjectType    string            `json:"project_type" yaml:"project_type"`
		Files          map[string]string `json:"files" yaml:"files"`
		Dependencies   []string          `json:"dependencies" yaml:"dependencies"`
		OverlayDir     string            `json:"overlay_dir" yaml:"overlay_dir"`
		EnvFile        string            `json:"env_file" yaml:"env_file"`
		InstallMarker  string            `json:"install_marker" yaml:"install_marker"`
		InstallRetries uint64            `json:"install_retries" yaml:"install_retries"`

		// directory the descriptor was read from, for resolving relative paths
		baseDir string
	}
)

const DefaultProjectName = "my-app"

var (
	ErrConfig = errors.New("invalid configuration")
)

// Load reads the descriptor at path. JSON is expected unless the file name ends in .yaml or .yml.
//
// Non-nil returned error wraps [ErrConfig].
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found", ErrConfig, path)
	} else if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %s", ErrConfig, path, err.Error())
	}

	var cfg Config

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(contents, &cfg)
	default:
		err = json.Unmarshal(contents, &cfg)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s is malformed: %s", ErrConfig, path, err.Error())
	}

	if err = cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrConfig, path, err.Error())
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve the directory of %s: %s", ErrConfig, path, err.Error())
	}

	cfg.baseDir = abs

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ProjectType) == "" {
		return errors.New(`"project_type" is required`)
	}

	for rel := range c.Files {
		if strings.TrimSpace(rel) == "" {
			return errors.New(`"files" contains an empty path`)
		}
	}

	for i, dep := range c.Dependencies {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf(`"dependencies" entry %d is empty`, i)
		}
	}

	return nil
}

func (c *Config) ProjectNameOrDefault() string {
	if name := strings.TrimSpace(c.ProjectName); name != "" {
		return name
	}

	return DefaultProjectName
}

// Resolve turns a path from the descriptor into one usable from the working directory.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.baseDir == "" {
		return path
	}

	return filepath.Join(c.baseDir, path)
}
