// Package config loads pagestore settings from defaults, an optional
// JSON-with-comments file and PAGESTORE_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/tailscale/hujson"

	"github.com/maloquacious/pagestore/internal/store"
)

// FileName is the config file looked up in the working directory.
const FileName = "pagestore.json"

// Config holds all configuration options.
type Config struct {
	DataDir     string `json:"data_dir"     env:"PAGESTORE_DATA_DIR"`
	DBFile      string `json:"db_file"      env:"PAGESTORE_DB_FILE"`
	ArtifactDir string `json:"artifact_dir" env:"PAGESTORE_ARTIFACT_DIR"`
	Debug       bool   `json:"debug"        env:"PAGESTORE_DEBUG"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir:     ".",
		DBFile:      store.DefaultDBFile,
		ArtifactDir: "savedpages",
	}
}

// Load applies, in order, the defaults, the config file at path and the
// environment. An empty path tries FileName and skips it when missing;
// an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	mustExist := path != ""
	if path == "" {
		path = FileName
	}
	if err := loadFile(path, mustExist, &cfg); err != nil {
		return Config{}, err
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, mustExist bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	if c.DBFile == "" {
		return errors.New("db_file must not be empty")
	}
	if c.ArtifactDir == "" {
		return errors.New("artifact_dir must not be empty")
	}
	return nil
}

// DBPath returns the database file, resolved against DataDir when relative.
func (c Config) DBPath() string {
	return c.resolve(c.DBFile)
}

// ArtifactPath returns the artifact root, resolved against DataDir when relative.
func (c Config) ArtifactPath() string {
	return c.resolve(c.ArtifactDir)
}

func (c Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
