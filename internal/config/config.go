// Package config holds the on-disk client configuration: which backend
// to talk to, the credentials, and the delivery tuning knobs.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration with TOML text encoding ("5s", "1m30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// API configures the REST backend.
type API struct {
	BaseURL string   `toml:"base_url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

// Transport configures the real-time channel.
type Transport struct {
	URL string `toml:"url"`
}

// Account identifies the local user.
type Account struct {
	UserID string `toml:"user_id"`
	Token  string `toml:"token"`
}

// Retry tunes the in-line send retry policy.
type Retry struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
}

// Queue tunes the offline send queue sweep.
type Queue struct {
	SweepInterval Duration `toml:"sweep_interval"`
	MinRetryDelay Duration `toml:"min_retry_delay"`
	MaxRetries    int      `toml:"max_retries"`
}

// Config is the per-profile configuration file.
type Config struct {
	DefaultProfile string    `toml:"default_profile"`
	Account        Account   `toml:"account"`
	API            API       `toml:"api"`
	Transport      Transport `toml:"transport"`
	Retry          Retry     `toml:"retry"`
	Queue          Queue     `toml:"queue"`
}

// Default returns the built-in configuration values.
func Default() *Config {
	return &Config{
		API: API{Timeout: Duration(10 * time.Second)},
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   Duration(time.Second),
		},
		Queue: Queue{
			SweepInterval: Duration(30 * time.Second),
			MinRetryDelay: Duration(5 * time.Second),
			MaxRetries:    3,
		},
	}
}

// Load reads config from the given path, filling unset tuning knobs with
// the defaults. Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The file carries credentials, hence the tight permissions.
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

func (c *Config) fillDefaults() {
	def := Default()
	if c.API.Timeout <= 0 {
		c.API.Timeout = def.API.Timeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if c.Queue.SweepInterval <= 0 {
		c.Queue.SweepInterval = def.Queue.SweepInterval
	}
	if c.Queue.MinRetryDelay <= 0 {
		c.Queue.MinRetryDelay = def.Queue.MinRetryDelay
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = def.Queue.MaxRetries
	}
}
