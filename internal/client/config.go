package client

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration of a sync client
type Config struct {
	ServerURL     string   `yaml:"server_url"`
	ClientGroupID string   `yaml:"client_group_id"`
	UserID        string   `yaml:"user_id"`
	SpaceID       string   `yaml:"space_id"`
	SubspaceIDs   []string `yaml:"subspace_ids"`

	// DatabasePath is the SQLite file holding the mutation queue and the
	// local record cache. ":memory:" keeps them for the process lifetime only.
	DatabasePath string `yaml:"database_path"`

	PullInterval   time.Duration `yaml:"pull_interval"`
	PushInterval   time.Duration `yaml:"push_interval"`
	PullLimit      int           `yaml:"pull_limit"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

// LoadConfig loads client configuration from a YAML file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SetDefaults fills in unspecified values
func (c *Config) SetDefaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = "storesync.db"
	}
	if c.PullInterval == 0 {
		c.PullInterval = 5 * time.Second
	}
	if c.PushInterval == 0 {
		c.PushInterval = 10 * time.Second
	}
	if c.PullLimit == 0 {
		c.PullLimit = 500
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.SpaceID == "" {
		return fmt.Errorf("space_id is required")
	}
	if c.PullInterval < 0 || c.PushInterval < 0 {
		return fmt.Errorf("sync intervals must not be negative")
	}
	if c.PullLimit < 0 {
		return fmt.Errorf("pull_limit must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}
