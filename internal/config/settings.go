package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// --- Application settings ---
//
// Settings are operator preferences (paths, timeouts, plugin options),
// not semantic state. They live in a YAML file under the XDG config home;
// the semantic state database lives under the XDG data home. Plugin
// defaults are merged under a "<plugin>." prefix so one file configures
// everything, and user values always win.

const appName = "taskbridge"

// CoreDefaults are the engine's built-in settings.
var CoreDefaults = map[string]string{
	"decision_timeout": "120s",
	"sync_interval":    "300s",
}

// Settings is the merged key/value settings view.
type Settings map[string]string

// Get returns the value for key, or fallback when unset.
func (s Settings) Get(key, fallback string) string {
	if v, ok := s[key]; ok {
		return v
	}
	return fallback
}

// Paths resolves the filesystem locations the engine uses.
type Paths struct {
	ConfigHome   string
	DataHome     string
	SettingsFile string
	StateDB      string
}

// DefaultPaths resolves XDG-compliant locations, creating the
// directories if needed.
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolving home directory: %w", err)
	}

	configBase := os.Getenv("XDG_CONFIG_HOME")
	if configBase == "" {
		configBase = filepath.Join(home, ".config")
	}
	dataBase := os.Getenv("XDG_DATA_HOME")
	if dataBase == "" {
		dataBase = filepath.Join(home, ".local", "share")
	}

	p := Paths{
		ConfigHome: filepath.Join(configBase, appName),
		DataHome:   filepath.Join(dataBase, appName),
	}
	p.SettingsFile = filepath.Join(p.ConfigHome, "settings.yaml")
	p.StateDB = filepath.Join(p.DataHome, "state.db")

	for _, dir := range []string{p.ConfigHome, p.DataHome} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return p, nil
}

// LoadSettings merges, in increasing priority: core defaults, per-plugin
// defaults namespaced as "<plugin>.<key>", and the user's settings.yaml.
// A missing settings file is not an error; a malformed one is.
func LoadSettings(path string, pluginDefaults map[string]map[string]string) (Settings, error) {
	merged := make(Settings, len(CoreDefaults))
	for k, v := range CoreDefaults {
		merged[k] = v
	}
	for plugin, defaults := range pluginDefaults {
		for k, v := range defaults {
			merged[plugin+"."+k] = v
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return merged, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	var user map[string]string
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for k, v := range user {
		merged[k] = v
	}
	return merged, nil
}

// SaveSetting writes a single key back to the settings file, preserving
// other user entries.
func SaveSetting(path, key, value string) error {
	user := make(map[string]string)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &user); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading settings: %w", err)
	}

	user[key] = value
	data, err := yaml.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
