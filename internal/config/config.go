package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/ochronus/goskynet/skynet"
	"github.com/sirupsen/logrus"
)

const (
	MinUploadWorkers = 1
	MaxUploadWorkers = 64
	MinRetryAttempts = 1
	MaxRetryAttempts = 10
)

// Config represents the main application configuration
type Config struct {
	PortalURL     string       `toml:"portal_url"`
	APIKey        string       `toml:"api_key"`
	Loglevel      string       `toml:"loglevel"`
	UploadWorkers int          `toml:"upload_workers"`
	SkipPatterns  []string     `toml:"skip_patterns"`
	Retry         RetryConfig  `toml:"retry"`
	Portal        PortalConfig `toml:"portal"`
}

// RetryConfig controls how the CLI retries failed uploads
type RetryConfig struct {
	MaxAttempts int `toml:"max_attempts"`
	BaseDelayMS int `toml:"base_delay_ms"`
}

// PortalConfig holds settings for the local portal emulator
type PortalConfig struct {
	BindAddress   string `toml:"bind_address"`
	Port          int    `toml:"port"`
	DataDirectory string `toml:"data_directory"`
	APIKey        string `toml:"api_key"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		PortalURL:     skynet.DefaultPortalURL,
		Loglevel:      "info",
		UploadWorkers: 4,
		SkipPatterns:  []string{".DS_Store", ".git"},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMS: 500,
		},
		Portal: PortalConfig{
			BindAddress:   "127.0.0.1",
			Port:          9980,
			DataDirectory: filepath.Join(xdg.DataHome, "goskynet", "portal"),
		},
	}
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() (string, error) {
	if xdg.ConfigHome == "" {
		return "", fmt.Errorf("failed to resolve config directory")
	}
	return filepath.Join(xdg.ConfigHome, "goskynet", "config.toml"), nil
}

// Load loads configuration from a TOML file
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads configPath, falling back to DefaultConfig when the
// file does not exist.
func LoadOrDefault(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(configPath)
}

// Validate checks the settings used by the client and the uploader
func (c *Config) Validate() error {
	if c.PortalURL == "" {
		return fmt.Errorf("portal_url is required")
	}
	u, err := url.ParseRequestURI(c.PortalURL)
	if err != nil {
		return fmt.Errorf("portal_url is invalid: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("portal_url must use http or https")
	}
	if _, err := logrus.ParseLevel(c.Loglevel); err != nil {
		return fmt.Errorf("loglevel must be one of: panic, fatal, error, warn, info, debug, trace")
	}
	if c.UploadWorkers < MinUploadWorkers || c.UploadWorkers > MaxUploadWorkers {
		return fmt.Errorf("upload_workers must be between %d and %d", MinUploadWorkers, MaxUploadWorkers)
	}
	if c.Retry.MaxAttempts < MinRetryAttempts || c.Retry.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("retry.max_attempts must be between %d and %d", MinRetryAttempts, MaxRetryAttempts)
	}
	if c.Retry.BaseDelayMS < 0 {
		return fmt.Errorf("retry.base_delay_ms must not be negative")
	}
	for _, pattern := range c.SkipPatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("skip_patterns entry %q is invalid: %v", pattern, err)
		}
	}
	return nil
}

// ValidatePortal checks the settings used by the local portal emulator
func (c *Config) ValidatePortal() error {
	if _, err := logrus.ParseLevel(c.Loglevel); err != nil {
		return fmt.Errorf("loglevel must be one of: panic, fatal, error, warn, info, debug, trace")
	}
	if c.Portal.Port < 0 || c.Portal.Port > 65535 {
		return fmt.Errorf("portal.port must be between 0 and 65535")
	}
	if c.Portal.DataDirectory == "" {
		return fmt.Errorf("portal.data_directory is required")
	}
	if err := os.MkdirAll(c.Portal.DataDirectory, 0755); err != nil {
		return fmt.Errorf("portal.data_directory is not usable: %w", err)
	}
	tmpFile, err := os.CreateTemp(c.Portal.DataDirectory, ".goskynet-perm-*")
	if err != nil {
		return fmt.Errorf("portal.data_directory is not writable: %w", err)
	}
	tmpFile.Close()
	os.Remove(tmpFile.Name())
	return nil
}
