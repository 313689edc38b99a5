// Package config loads ~/.zhchat/config.toml and its environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultServerURL         = "ws://localhost:8000/"
	DefaultPageSize          = 10
	DefaultReconnectInterval = 2 * time.Second
	DefaultLogLevel          = "info"
)

// Duration is a time.Duration written as a string such as "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.zhchat/config.toml.
type Config struct {
	DefaultSession    string   `toml:"default_session"`
	ServerURL         string   `toml:"server_url"`
	Username          string   `toml:"username"`
	Token             string   `toml:"token"`
	PageSize          int      `toml:"page_size"`
	InitialWindow     int      `toml:"initial_window"`
	ReconnectInterval Duration `toml:"reconnect_interval"`
	MetricsAddr       string   `toml:"metrics_addr"`
	LogLevel          string   `toml:"log_level"`
}

// Defaults returns a config with every default filled in.
func Defaults() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

func (c *Config) fillDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.InitialWindow <= 0 {
		c.InitialWindow = c.PageSize
	}
	if c.ReconnectInterval.Duration <= 0 {
		c.ReconnectInterval.Duration = DefaultReconnectInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Load reads config from the given path. Returns nil and an error if the
// file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEffective reads path if it exists, loads .env files from the working
// directory, applies ZHCHAT_* overrides and fills defaults.
func LoadEffective(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = &Config{}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// ApplyEnv overrides fields from ZHCHAT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ZHCHAT_SERVER_URL":   &c.ServerURL,
		"ZHCHAT_USERNAME":     &c.Username,
		"ZHCHAT_TOKEN":        &c.Token,
		"ZHCHAT_METRICS_ADDR": &c.MetricsAddr,
		"ZHCHAT_LOG_LEVEL":    &c.LogLevel,
		"ZHCHAT_SESSION":      &c.DefaultSession,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("ZHCHAT_PAGE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ZHCHAT_PAGE_SIZE: %w", err)
		}
		c.PageSize = n
	}
	if v, ok := lookup("ZHCHAT_RECONNECT_INTERVAL"); ok && v != "" {
		if err := c.ReconnectInterval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("ZHCHAT_RECONNECT_INTERVAL: %w", err)
		}
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
