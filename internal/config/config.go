// Package config loads client configuration from ~/.parley/config.yaml,
// with environment overrides for the endpoint and credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configDir      = ".parley"
	configFileName = "config.yaml"

	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelID   = "gpt-4o-mini"
	defaultPageSize  = 10
	defaultPollLimit = 20
)

type Config struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	PageSize  int    `yaml:"page_size"`
	PollLimit int    `yaml:"poll_limit"`
}

// Load reads the config file if present and applies defaults and
// environment overrides (PARLEY_BASE_URL, PARLEY_API_KEY).
func Load() (*Config, error) {
	cfg := &Config{}

	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if env := os.Getenv("PARLEY_BASE_URL"); env != "" {
		c.BaseURL = env
	}
	if env := os.Getenv("PARLEY_API_KEY"); env != "" {
		c.APIKey = env
	}

	c.BaseURL = strings.TrimSpace(c.BaseURL)
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.Model = strings.TrimSpace(c.Model)

	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModelID
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.PollLimit <= 0 {
		c.PollLimit = defaultPollLimit
	}
	if c.APIKey == "" {
		return fmt.Errorf("API key is required (set api_key in config or PARLEY_API_KEY)")
	}
	return nil
}

func configPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, configDir, configFileName), nil
}
