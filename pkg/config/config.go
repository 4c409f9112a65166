package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// EnvConfigPath overrides the default config location. Used by tests and
// multi-profile setups.
const EnvConfigPath = "CROPION_CONFIG_PATH"

// DefaultServerURL is used when no config file exists and no flag is given.
const DefaultServerURL = "http://localhost:9000"

// Config is the CLI's persistent configuration.
type Config struct {
	ServerURL string `json:"server_url"`
}

// Path returns the config file location: $CROPION_CONFIG_PATH or
// ~/.cropion/config.json.
func Path() (string, error) {
	if override := os.Getenv(EnvConfigPath); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".cropion", "config.json"), nil
}

// Load reads the config file. A missing file yields defaults.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{ServerURL: DefaultServerURL}, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if err := ValidateServerURL(cfg.ServerURL); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config file, creating its directory if needed.
func (c *Config) Save() error {
	if err := ValidateServerURL(c.ServerURL); err != nil {
		return err
	}

	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ValidateServerURL checks the URL is http or https with a host.
func ValidateServerURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server URL %q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("server URL %q has no host", raw)
	}
	return nil
}
