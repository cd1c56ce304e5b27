package config

import (
	"fmt"
	"time"
)

// Storage backends.
const (
	BackendRemote = "remote"
	BackendFS     = "fs"
	BackendS3     = "s3"
)

// Adapter types.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Config represents a backfill.yaml configuration file.
// All values are optional and act as defaults for backfill flags.
// CLI flags always override config values.
type Config struct {
	AppURL  string        `yaml:"app_url"`
	Project string        `yaml:"project"`
	Entity  string        `yaml:"entity"`
	Sync    SyncConfig    `yaml:"sync"`
	Storage StorageConfig `yaml:"storage"`
	Remote  RemoteConfig  `yaml:"remote"`
	Sender  SenderConfig  `yaml:"sender"`
	Adapter AdapterConfig `yaml:"adapter"`
	Log     LogConfig     `yaml:"log"`
}

// SyncConfig holds sync session defaults.
type SyncConfig struct {
	MarkSynced         *bool    `yaml:"mark_synced,omitempty"`
	IncludeTensorboard *bool    `yaml:"include_tensorboard,omitempty"`
	PollInterval       Duration `yaml:"poll_interval,omitempty"`
}

// StorageConfig selects where records are delivered.
type StorageConfig struct {
	// Backend is remote (default), fs, or s3.
	Backend     string `yaml:"backend"`
	Dataset     string `yaml:"dataset"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// RemoteConfig configures the ingestion service client.
type RemoteConfig struct {
	APIURL  string   `yaml:"api_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
}

// SenderConfig holds record batching defaults.
type SenderConfig struct {
	FlushCount int `yaml:"flush_count"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", BackendRemote, BackendFS, BackendS3:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q (want remote, fs, or s3)", c.Storage.Backend)
	}
	switch c.Adapter.Type {
	case "":
	case AdapterWebhook, AdapterRedis:
		if c.Adapter.URL == "" {
			return fmt.Errorf("adapter.url is required for %s adapter", c.Adapter.Type)
		}
	default:
		return fmt.Errorf("adapter.type: unknown adapter %q (want webhook or redis)", c.Adapter.Type)
	}
	if c.Sender.FlushCount < 0 {
		return fmt.Errorf("sender.flush_count must be >= 0, got %d", c.Sender.FlushCount)
	}
	return nil
}
