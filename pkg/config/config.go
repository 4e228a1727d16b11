package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kataras/airtable-extractor/pkg/airtable"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds the extractor settings read from the environment.
type Config struct {
	Token string `env:"AIRTABLE_API_TOKEN"`
	// APIKey is the legacy variable name, used when AIRTABLE_API_TOKEN is unset.
	APIKey string `env:"AIRTABLE_API_KEY"`

	APIBaseURL      string        `env:"AIRTABLE_API_URL" envDefault:"https://api.airtable.com/v0"`
	OutputDir       string        `env:"AIRTABLE_EXPORT_DIR" envDefault:"airtable-export"`
	PageDelay       time.Duration `env:"AIRTABLE_PAGE_DELAY" envDefault:"200ms"`
	MaxPages        int           `env:"AIRTABLE_MAX_PAGES" envDefault:"10000"`
	PageSize        int           `env:"AIRTABLE_PAGE_SIZE" envDefault:"0"`
	DownloadWorkers int           `env:"AIRTABLE_DOWNLOAD_WORKERS" envDefault:"1"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads an optional .env file from the working directory, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Credential returns the API token, falling back to the legacy variable.
func (c *Config) Credential() string {
	if t := strings.TrimSpace(c.Token); t != "" {
		return t
	}
	return strings.TrimSpace(c.APIKey)
}

// RequireCredential fails with a *airtable.ConfigurationError when no token is set.
func (c *Config) RequireCredential() error {
	if c.Credential() == "" {
		return &airtable.ConfigurationError{
			Setting: "AIRTABLE_API_TOKEN",
			Message: "environment variable is not set (export AIRTABLE_API_TOKEN=your_token)",
		}
	}
	return nil
}

// Validate checks numeric settings.
func (c *Config) Validate() error {
	if c.PageDelay < 0 {
		return &airtable.ConfigurationError{Setting: "AIRTABLE_PAGE_DELAY", Message: "must not be negative"}
	}
	if c.MaxPages <= 0 {
		return &airtable.ConfigurationError{Setting: "AIRTABLE_MAX_PAGES", Message: "must be positive"}
	}
	if c.PageSize < 0 || c.PageSize > 100 {
		return &airtable.ConfigurationError{Setting: "AIRTABLE_PAGE_SIZE", Message: "must be between 0 and 100"}
	}
	if c.DownloadWorkers <= 0 {
		return &airtable.ConfigurationError{Setting: "AIRTABLE_DOWNLOAD_WORKERS", Message: "must be positive"}
	}
	return nil
}
