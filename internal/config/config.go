// Package config loads daemon configuration from a JSON file at
// $XDG_CONFIG_HOME/attuned/config.json, with ATTUNED_* environment
// variables overriding file values.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Advisor AdvisorConfig
	API     APIConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type AdvisorConfig struct {
	CacheTTL    string // e.g. "2m"
	WorkerPoll  string // e.g. "500ms"
	DefaultUser string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Advisor: AdvisorConfig{
			CacheTTL:    "2m",
			WorkerPoll:  "500ms",
			DefaultUser: "local",
		},
	}
}

// Load reads configuration from the config file and environment.
// A missing API token is generated and persisted on first load, so a
// fresh install works without any manual setup.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.Token == "" {
		token, err := generateToken()
		if err != nil {
			return Config{}, fmt.Errorf("generating api token: %w", err)
		}
		if err := b.SetString("api.token", token); err != nil {
			return Config{}, fmt.Errorf("persisting api token: %w", err)
		}
		cfg.API.Token = token
	}

	return cfg, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CacheTTL parses the advisor cache TTL, falling back to the default on
// a malformed value.
func (c Config) CacheTTL() time.Duration {
	return parseDurationOr(c.Advisor.CacheTTL, 2*time.Minute)
}

// WorkerPoll parses the learning worker poll interval.
func (c Config) WorkerPoll() time.Duration {
	return parseDurationOr(c.Advisor.WorkerPoll, 500*time.Millisecond)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
