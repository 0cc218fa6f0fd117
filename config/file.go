package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileNames are the config files looked up in the data directory, in order.
var FileNames = []string{"config.yaml", "config.yml", "config.toml", "config.json"}

// LoadFile decodes a settings file. The format follows the file extension.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	case ".toml":
		_, err = toml.Decode(string(data), &s)
	case ".json":
		err = json.Unmarshal(data, &s)
	default:
		return Settings{}, fmt.Errorf("unsupported config format %q", ext)
	}

	if err != nil {
		return Settings{}, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	return s, nil
}

// FindFile returns the first config file present in dir.
func FindFile(dir string) (string, bool) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Load merges the defaults, the config file of dataDir (if any) and the file
// at explicitPath (if set), later sources winning. It returns the settings
// and the path of the file that was read last.
func Load(dataDir, explicitPath string) (Settings, string, error) {
	settings := Default()
	loaded := ""

	if len(dataDir) != 0 {
		if path, ok := FindFile(dataDir); ok {
			s, err := LoadFile(path)
			if err != nil {
				return settings, "", err
			}
			settings = settings.Merge(s)
			loaded = path
		}
	}

	if len(explicitPath) != 0 {
		s, err := LoadFile(explicitPath)
		if errors.Is(err, os.ErrNotExist) {
			return settings, loaded, fmt.Errorf("config file %s does not exist", explicitPath)
		} else if err != nil {
			return settings, loaded, err
		}
		settings = settings.Merge(s)
		loaded = explicitPath
	}

	return settings, loaded, nil
}

// DecodeSection reads the settings sent by an editor. Both the wrapped form
// {"checker-framework": {...}} and the bare settings object are accepted.
func DecodeSection(raw json.RawMessage) (Settings, error) {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Settings{}, err
	}

	if section, ok := wrapped[SectionKey]; ok {
		raw = section
	}

	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
