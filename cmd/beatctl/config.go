package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const defaultServerURL = "http://localhost:8080"

type cliConfig struct {
	ServerURL  string `toml:"server_url"`
	ClientID   string `toml:"client_id"`
	PendingDir string `toml:"pending_dir"`
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config dir: %w", err)
	}
	return filepath.Join(dir, "beatctl", "config.toml"), nil
}

// loadConfig reads path, filling defaults. A device gets a client id the
// first time it runs; it is written back so slot claims stay stable.
func loadConfig(path string) (cliConfig, error) {
	var cfg cliConfig
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("loading config %q: %w", path, err)
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %q: %w", path, err)
		}
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}
	if cfg.PendingDir == "" {
		cfg.PendingDir = filepath.Join(filepath.Dir(path), "pending")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
		if err := saveConfig(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func saveConfig(path string, cfg cliConfig) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
