// Package config loads the filesystem collaborators the core treats as
// external: per-project agent presets (TOML) and the workspace layout store
// (JSON). The Manager uses neither. The Connection Handler's spawn dispatch
// loads project presets; workspace layouts are left for a hosting
// application.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// projectConfigPath is relative to a project directory, matching the
// original bridge's on-disk layout.
const projectConfigPath = ".hoc/config.toml"

// AgentPreset is a named bundle of spawn parameters.
type AgentPreset struct {
	Name          string   `toml:"name"`
	Args          []string `toml:"args"`
	InitialPrompt string   `toml:"initial_prompt"`
}

// ProjectConfig is the parsed contents of a project's config.toml.
type ProjectConfig struct {
	Presets        []AgentPreset `toml:"presets"`
	DefaultPreset  string        `toml:"default_preset"`
}

// LoadProjectConfig reads <projectPath>/.hoc/config.toml. A missing file
// yields an empty ProjectConfig rather than an error, so projects with no
// preset file spawn with default parameters.
func LoadProjectConfig(projectPath string) (ProjectConfig, error) {
	path := filepath.Join(projectPath, projectConfigPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProjectConfig{}, nil
		}
		return ProjectConfig{}, err
	}

	var cfg ProjectConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return ProjectConfig{}, err
	}
	return cfg, nil
}

// GetPreset looks up a preset by name.
func (c ProjectConfig) GetPreset(name string) (AgentPreset, bool) {
	for _, p := range c.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return AgentPreset{}, false
}

// DefaultPresetValue returns the config's default preset, if any.
func (c ProjectConfig) DefaultPresetValue() (AgentPreset, bool) {
	if c.DefaultPreset == "" {
		return AgentPreset{}, false
	}
	return c.GetPreset(c.DefaultPreset)
}
