// Package config loads user-editable settings from a JSON file, falling back
// to defaults that work on a bare machine.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const defaultConfigPath = "~/.config/stargazer/config.json"

// Config holds user-editable settings for the stacker.
type Config struct {
	Stacking  Stacking  `json:"stacking"`
	Detection Detection `json:"detection"`
	Watch     Watch     `json:"watch"`
	Server    Server    `json:"server"`
	Logging   Logging   `json:"logging"`
	Paths     Paths     `json:"paths"`
}

// Stacking captures execution preferences for a run.
type Stacking struct {
	Backend   string `json:"backend"`    // auto, native, magick
	Workers   int    `json:"workers"`    // alignment workers; 0 = one per core
	BatchSize int    `json:"batch_size"` // frames per batch; 0 = size from memory
}

// Detection tunes star detection and transform estimation.
type Detection struct {
	Sigma      float64 `json:"sigma"`       // detection threshold in noise sigmas
	MinMatches int     `json:"min_matches"` // star matches required to align a frame
	Iterations int     `json:"iterations"`  // consensus iterations
	Tolerance  float64 `json:"tolerance"`   // inlier tolerance in pixels
}

// Watch configures live-stacking directory watches.
type Watch struct {
	SettleMS int `json:"settle_ms"` // wait for a new file to stop growing
}

// Server configures the monitoring HTTP server.
type Server struct {
	Addr string `json:"addr"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default locations.
type Paths struct {
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Load reads configuration from disk, falling back to sensible defaults. The
// STARGAZER_CONFIG environment variable overrides the default path; a missing
// file is not an error.
func Load() (*Config, error) {
	cfg := Default()

	configPath := os.Getenv("STARGAZER_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Stacking: Stacking{
			Backend: "auto",
		},
		Detection: Detection{
			Sigma:      5.0,
			MinMatches: 4,
			Iterations: 2000,
			Tolerance:  3.0,
		},
		Watch: Watch{
			SettleMS: 2000,
		},
		Server: Server{
			Addr: "127.0.0.1:8465",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			LogDir: "./logs",
		},
		Paths: Paths{
			DefaultOutput: "stacked.fits",
			DatabasePath:  filepath.Join(os.TempDir(), "stargazer.db"),
		},
	}
}

// Write saves cfg as indented JSON at path, creating parent directories.
// The file is written to a temp name and renamed into place.
func Write(cfg *Config, path string) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := expanded + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, expanded)
}

// DefaultPath returns the expanded default config location.
func DefaultPath() string {
	expanded, err := expandUser(defaultConfigPath)
	if err != nil {
		return defaultConfigPath
	}
	return expanded
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
