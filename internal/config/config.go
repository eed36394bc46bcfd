// Package config handles courier configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the root configuration structure for courier.
type Config struct {
	Global        GlobalConfig        `yaml:"global" mapstructure:"global"`
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Feed          FeedConfig          `yaml:"feed" mapstructure:"feed"`
	Logging       LoggingConfig       `yaml:"logging" mapstructure:"logging"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir is where courier stores its data (default: ~/.local/share/courier).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/courier).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// StoreConfig selects and tunes the document store.
type StoreConfig struct {
	// Backend is memory, sqlite or postgres.
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Path is the SQLite database file path (default: DataDir/courier.db).
	Path string `yaml:"path" mapstructure:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeoutMs is how long SQLite waits for a locked database.
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`

	// RetryAttempts bounds retries of busy/locked writes.
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`

	// StrictIndexes makes the memory store reject ordered queries that have
	// no declared composite index, like a hosted document store would.
	StrictIndexes bool `yaml:"strict_indexes" mapstructure:"strict_indexes"`

	// Indexes lists declared composite indexes as "collection:field1,field2".
	Indexes []string `yaml:"indexes" mapstructure:"indexes"`
}

// FeedConfig selects the change feed used to fan out writes to subscribers.
type FeedConfig struct {
	// Backend is memory or redis.
	Backend       string `yaml:"backend" mapstructure:"backend"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	Channel       string `yaml:"channel" mapstructure:"channel"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// MessagingConfig tunes the messaging engine.
type MessagingConfig struct {
	// PreviewLength is the notification preview length in characters.
	PreviewLength int `yaml:"preview_length" mapstructure:"preview_length"`

	NotificationTitle string `yaml:"notification_title" mapstructure:"notification_title"`

	// WriteTimeout bounds every store call made on behalf of a user action.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`

	// ReadMarkConcurrency bounds concurrent read-mark writes per snapshot.
	ReadMarkConcurrency int `yaml:"read_mark_concurrency" mapstructure:"read_mark_concurrency"`

	// CountConcurrency bounds concurrent per-conversation unread counts.
	CountConcurrency int `yaml:"count_concurrency" mapstructure:"count_concurrency"`

	// ErrorBuffer is the capacity of the user-visible error channel.
	ErrorBuffer int `yaml:"error_buffer" mapstructure:"error_buffer"`
}

// NotificationsConfig tunes the notification center.
type NotificationsConfig struct {
	// Limit is how many recent notifications are loaded.
	Limit int `yaml:"limit" mapstructure:"limit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	JWTSecret      string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTIssuer      string        `yaml:"jwt_issuer" mapstructure:"jwt_issuer"`
	TokenTTL       time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`

	// SendRate is the sustained messages per second allowed per user.
	SendRate  float64 `yaml:"send_rate" mapstructure:"send_rate"`
	SendBurst int     `yaml:"send_burst" mapstructure:"send_burst"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "courier"),
			ConfigDir: filepath.Join(homeDir, ".config", "courier"),
		},
		Store: StoreConfig{
			Backend:        BackendSQLite,
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
			RetryAttempts:  5,
			RetryBackoff:   50 * time.Millisecond,
			Indexes:        append([]string(nil), DefaultIndexes...),
		},
		Feed: FeedConfig{
			Backend:   BackendMemory,
			RedisAddr: "localhost:6379",
			Channel:   "courier-changes",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Messaging: MessagingConfig{
			PreviewLength:       50,
			NotificationTitle:   "New Message",
			WriteTimeout:        10 * time.Second,
			ReadMarkConcurrency: 8,
			CountConcurrency:    8,
			ErrorBuffer:         16,
		},
		Notifications: NotificationsConfig{
			Limit: 20,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:5173"},
			JWTIssuer:       "courier",
			TokenTTL:        24 * time.Hour,
			SendRate:        5,
			SendBurst:       10,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, sqlite, postgres")
	}
	if c.Store.MaxConnections < 1 {
		return fmt.Errorf("store.max_connections must be at least 1")
	}
	if c.Store.RetryAttempts < 1 {
		return fmt.Errorf("store.retry_attempts must be at least 1")
	}
	for i, index := range c.Store.Indexes {
		if _, _, err := ParseIndex(index); err != nil {
			return fmt.Errorf("store.indexes[%d]: %w", i, err)
		}
	}

	switch c.Feed.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Feed.RedisAddr == "" {
			return fmt.Errorf("feed.redis_addr is required for the redis feed")
		}
		if c.Feed.Channel == "" {
			return fmt.Errorf("feed.channel is required for the redis feed")
		}
	default:
		return fmt.Errorf("feed.backend must be one of memory, redis")
	}

	if c.Messaging.PreviewLength < 1 {
		return fmt.Errorf("messaging.preview_length must be at least 1")
	}
	if c.Messaging.WriteTimeout < 100*time.Millisecond {
		return fmt.Errorf("messaging.write_timeout must be at least 100ms")
	}
	if c.Messaging.ReadMarkConcurrency < 1 || c.Messaging.CountConcurrency < 1 {
		return fmt.Errorf("messaging concurrency limits must be at least 1")
	}
	if c.Messaging.ErrorBuffer < 1 {
		return fmt.Errorf("messaging.error_buffer must be at least 1")
	}
	if c.Notifications.Limit < 1 {
		return fmt.Errorf("notifications.limit must be at least 1")
	}
	if c.Server.SendRate <= 0 || c.Server.SendBurst < 1 {
		return fmt.Errorf("server.send_rate and server.send_burst must be positive")
	}
	return nil
}

// ValidateServer checks the settings only `serve` needs.
func (c *Config) ValidateServer() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if len(c.Server.JWTSecret) < 16 {
		return fmt.Errorf("server.jwt_secret must be at least 16 characters")
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Global.DataDir, c.Global.ConfigDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the full SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.Global.DataDir, "courier.db")
}
