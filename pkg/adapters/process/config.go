package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProcessConfig describes one allow-listed executor process.
type ProcessConfig struct {
	// Name is the node ID the process executes.
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
	// Timeout bounds a single run. Zero means the caller's context decides.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ConfigFile represents the structure of executors.yaml.
type ConfigFile struct {
	Executors []ProcessConfig `yaml:"executors" json:"executors"`
}

// LoadConfig reads a configuration file (YAML or JSON) and returns the
// executors keyed by name. A missing file yields an empty map.
func LoadConfig(path string) (map[string]ProcessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ProcessConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read executors config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	out := make(map[string]ProcessConfig, len(cfg.Executors))
	for _, e := range cfg.Executors {
		if e.Name == "" || e.Command == "" {
			return nil, fmt.Errorf("executor entry needs a name and a command: %+v", e)
		}
		if _, dup := out[e.Name]; dup {
			return nil, fmt.Errorf("duplicate executor %q", e.Name)
		}
		out[e.Name] = e
	}
	return out, nil
}
