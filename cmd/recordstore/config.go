package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// replConfig is the optional on-disk configuration for the REPL. All
// fields have sensible defaults so the tool runs with zero config.
type replConfig struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
}

func defaultConfig() replConfig {
	return replConfig{
		DBPath:   "db",
		LogLevel: "info",
	}
}

// loadConfig reads path if it exists and overlays it onto the
// defaults; a missing file is not an error.
func loadConfig(path string) (replConfig, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
