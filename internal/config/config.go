// Package config loads the global ~/.wavault/config.toml and applies
// GREENAPI_* environment overrides, which always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML strings like "1s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the global configuration.
type Config struct {
	DefaultProfile string      `toml:"default_profile"`
	API            APIConfig   `toml:"api"`
	Sync           SyncConfig  `toml:"sync"`
	Media          MediaConfig `toml:"media"`
}

// APIConfig holds provider credentials and request tuning.
type APIConfig struct {
	InstanceID         string   `toml:"instance_id"`
	Token              string   `toml:"api_token"`
	BaseURL            string   `toml:"base_url"`
	MediaURL           string   `toml:"media_url"`
	PageSize           int      `toml:"page_size"`
	MaxRetries         int      `toml:"max_retries"`
	BackoffBase        Duration `toml:"backoff_base"`
	MinRequestInterval Duration `toml:"min_request_interval"`
	RequestTimeout     Duration `toml:"request_timeout"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	Lookback         int      `toml:"lookback"`           // incremental fetch ceiling per chat
	ChatDelay        Duration `toml:"chat_delay"`         // pause between chats in syncAll
	ActiveWindowDays int      `toml:"active_window_days"` // incremental runs only touch chats active this recently
	MaxChats         int      `toml:"max_chats"`          // incremental runs cap the chat count
}

// MediaConfig tunes the media download queue.
type MediaConfig struct {
	Workers         int      `toml:"workers"`
	MaxAttempts     int      `toml:"max_attempts"`
	DownloadTimeout Duration `toml:"download_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "",
		API: APIConfig{
			BaseURL:            "https://api.green-api.com",
			MediaURL:           "https://media.green-api.com",
			PageSize:           100,
			MaxRetries:         3,
			BackoffBase:        Duration{time.Second},
			MinRequestInterval: Duration{time.Second},
			RequestTimeout:     Duration{30 * time.Second},
		},
		Sync: SyncConfig{
			Lookback:         200,
			ChatDelay:        Duration{time.Second},
			ActiveWindowDays: 7,
			MaxChats:         50,
		},
		Media: MediaConfig{
			Workers:         4,
			MaxAttempts:     3,
			DownloadTimeout: Duration{60 * time.Second},
		},
	}
}

// Load reads config from the given path on top of the defaults. A missing
// file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides credentials and endpoints from the environment, using
// the variable names the provider documents.
func (c *Config) applyEnv() {
	if v := os.Getenv("GREENAPI_ID_INSTANCE"); v != "" {
		c.API.InstanceID = v
	}
	if v := os.Getenv("GREENAPI_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("GREENAPI_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("GREENAPI_MEDIA_URL"); v != "" {
		c.API.MediaURL = v
	}
}

// ValidateCredentials checks the fields every API call needs.
func (c *Config) ValidateCredentials() error {
	if c.API.InstanceID == "" || c.API.Token == "" {
		return errors.New("missing Green API credentials: set api.instance_id and api.api_token in config.toml or GREENAPI_ID_INSTANCE / GREENAPI_API_TOKEN")
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
