// Package manifest handles kumo.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a kumo.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Run     RunConfig   `toml:"run"`
	Store   StoreConfig `toml:"store"`

	// Dir is the directory containing the kumo.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// RunConfig configures execution defaults.
type RunConfig struct {
	Module    string `toml:"module"`     // module file, relative to Dir
	Trace     bool   `toml:"trace"`      // instruction tracing
	StepLimit int    `toml:"step-limit"` // 0 means unlimited
}

// StoreConfig configures the module store.
type StoreConfig struct {
	Path string `toml:"path"` // SQLite database, relative to Dir
}

// Load parses a kumo.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "kumo.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Run.Module == "" {
		m.Run.Module = "bytecode.kumo"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a kumo.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "kumo.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ModulePath returns the absolute path of the configured module file.
func (m *Manifest) ModulePath() string {
	if filepath.IsAbs(m.Run.Module) {
		return m.Run.Module
	}
	return filepath.Join(m.Dir, m.Run.Module)
}

// StorePath returns the absolute path of the configured store database,
// or empty when no store is configured.
func (m *Manifest) StorePath() string {
	if m.Store.Path == "" {
		return ""
	}
	if filepath.IsAbs(m.Store.Path) {
		return m.Store.Path
	}
	return filepath.Join(m.Dir, m.Store.Path)
}
