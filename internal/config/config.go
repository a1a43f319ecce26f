// Package config loads the YAML configuration for the relay binary and
// the client session layer.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Session  SessionConfig  `mapstructure:"session"`
	Database DatabaseConfig `mapstructure:"database"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RelayConfig controls the websocket relay server.
type RelayConfig struct {
	Address      string        `mapstructure:"address"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// SessionConfig controls the client session layer.
type SessionConfig struct {
	ServerURL      string        `mapstructure:"server_url"`
	DataDir        string        `mapstructure:"data_dir"`
	ClientVersion  string        `mapstructure:"client_version"`
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
	BackoffMin     time.Duration `mapstructure:"backoff_min"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	SyncDebounce   time.Duration `mapstructure:"sync_debounce"`
	InitDebounce   time.Duration `mapstructure:"init_debounce"`
}

// DatabaseConfig points the relay at its room registry. An empty URL
// selects the in-memory registry.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// Load reads configuration from path, applying defaults for anything
// unset. Environment variables prefixed MAGETABLE_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MAGETABLE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("relay.address", ":8080")
	v.SetDefault("relay.write_timeout", 10*time.Second)
	v.SetDefault("relay.ping_interval", 30*time.Second)

	v.SetDefault("session.server_url", "ws://localhost:8080")
	v.SetDefault("session.data_dir", ".mage-table")
	v.SetDefault("session.client_version", "dev")
	v.SetDefault("session.reconnect_grace", 6*time.Second)
	v.SetDefault("session.backoff_min", 2*time.Second)
	v.SetDefault("session.backoff_max", 30*time.Second)
	v.SetDefault("session.sync_debounce", 80*time.Millisecond)
	v.SetDefault("session.init_debounce", 150*time.Millisecond)

	v.SetDefault("database.url", "")
}
