package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load loads the configuration from configPath, or from the first of the
// standard search locations if configPath is empty.
func Load(configPath string) (*Config, error) {
	cfgFile, err := findConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	configDir := filepath.Dir(cfgFile)
	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ConfigDir = configDir
	cfg.defaults()

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// findConfigFile searches for the configuration file in standard locations.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if !fileExists(explicitPath) {
			return "", os.ErrNotExist
		}
		return explicitPath, nil
	}

	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "forgepack", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "forgepack", "config.yaml"))
	}
	candidates = append(candidates, "/etc/forgepack/config.yaml")

	for _, file := range candidates {
		if fileExists(file) {
			return file, nil
		}
	}

	return "", os.ErrNotExist
}
