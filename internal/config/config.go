// Package config loads server/CLI configuration from an optional YAML
// file merged with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config defines aipair server/CLI configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Server    ServerConfig    `yaml:"server"`
	Repo      RepoConfig      `yaml:"repo"`
	Log       LogConfig       `yaml:"log"`
	Reload    ReloadConfig    `yaml:"reload"`
}

// TransportConfig selects how the server exposes itself.
type TransportConfig struct {
	Mode string `yaml:"mode"` // "stdio" (MCP) or "http"
}

// ServerConfig is the HTTP listener's address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RepoConfig locates the trunk jj repository this server/CLI operates on.
type RepoConfig struct {
	Path       string `yaml:"path"`
	ClonesPath string `yaml:"clones_path"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ReloadConfig controls the optional self-reload watcher.
type ReloadConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load builds a Config from defaults, an optional YAML file (path given
// by AIPAIR_CONFIG_PATH), then individual environment variable
// overrides — env wins over file, file wins over defaults.
func Load() (Config, error) {
	cfg := Config{
		Transport: TransportConfig{Mode: "stdio"},
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8420},
		Repo:      RepoConfig{Path: ".", ClonesPath: ".aipair/clones"},
		Log:       LogConfig{Level: "info"},
		Reload:    ReloadConfig{Enabled: false},
	}

	if path := os.Getenv("AIPAIR_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if mode := os.Getenv("AIPAIR_TRANSPORT"); mode != "" {
		cfg.Transport.Mode = mode
	}
	if host := os.Getenv("AIPAIR_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("AIPAIR_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AIPAIR_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if repoPath := os.Getenv("AIPAIR_REPO_PATH"); repoPath != "" {
		cfg.Repo.Path = repoPath
	}
	if clonesPath := os.Getenv("AIPAIR_CLONES_PATH"); clonesPath != "" {
		cfg.Repo.ClonesPath = clonesPath
	}
	if level := os.Getenv("AIPAIR_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if reload := os.Getenv("AIPAIR_RELOAD_ENABLED"); reload != "" {
		value, err := strconv.ParseBool(reload)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AIPAIR_RELOAD_ENABLED: %w", err)
		}
		cfg.Reload.Enabled = value
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
