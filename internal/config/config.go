// Package config loads CLI defaults from an .arrow.toml file, the same
// inline pattern the teacher CLI used for .sift.toml, pulled into its own
// package so it can be unit tested independent of cobra wiring.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds defaults for global and per-command CLI flags. A zero value
// means "use the built-in default" for that field.
type Config struct {
	Database       string `toml:"database"`
	ModelDir       string `toml:"model-dir"`
	Embedder       string `toml:"embedder"`
	MaxConnections int    `toml:"max-connections"`
}

// Load reads and parses path. A missing file is not an error — it yields a
// zero Config, so callers fall back to built-in defaults.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
