package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "COURIER"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Unmarshal does not merge env vars into nested structs when a config
	// file is present.
	l.applyEnvOverrides(cfg)

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Store.Path = expandTilde(cfg.Store.Path)
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("courier")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "courier"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "courier"))
	}
	v.AddConfigPath("/etc/courier")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaultValues(cfg) {
		v.SetDefault(key, value)
	}

	// Explicitly bind environment variables (Viper's Unmarshal has issues without this)
	for key := range defaultValues(cfg) {
		_ = v.BindEnv(key, EnvVar(key))
	}

	v.AutomaticEnv()
}

// EnvVar returns the environment variable that overrides key,
// e.g. store.path -> COURIER_STORE_PATH.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func defaultValues(cfg *Config) map[string]any {
	return map[string]any{
		"global.data_dir":   cfg.Global.DataDir,
		"global.config_dir": cfg.Global.ConfigDir,

		"store.backend":         cfg.Store.Backend,
		"store.path":            cfg.Store.Path,
		"store.dsn":             cfg.Store.DSN,
		"store.max_connections": cfg.Store.MaxConnections,
		"store.busy_timeout_ms": cfg.Store.BusyTimeoutMs,
		"store.retry_attempts":  cfg.Store.RetryAttempts,
		"store.retry_backoff":   cfg.Store.RetryBackoff,
		"store.strict_indexes":  cfg.Store.StrictIndexes,
		"store.indexes":         cfg.Store.Indexes,

		"feed.backend":        cfg.Feed.Backend,
		"feed.redis_addr":     cfg.Feed.RedisAddr,
		"feed.redis_password": cfg.Feed.RedisPassword,
		"feed.redis_db":       cfg.Feed.RedisDB,
		"feed.channel":        cfg.Feed.Channel,

		"logging.level":         cfg.Logging.Level,
		"logging.format":        cfg.Logging.Format,
		"logging.enable_caller": cfg.Logging.EnableCaller,

		"messaging.preview_length":        cfg.Messaging.PreviewLength,
		"messaging.notification_title":    cfg.Messaging.NotificationTitle,
		"messaging.write_timeout":         cfg.Messaging.WriteTimeout,
		"messaging.read_mark_concurrency": cfg.Messaging.ReadMarkConcurrency,
		"messaging.count_concurrency":     cfg.Messaging.CountConcurrency,
		"messaging.error_buffer":          cfg.Messaging.ErrorBuffer,

		"notifications.limit": cfg.Notifications.Limit,

		"server.addr":             cfg.Server.Addr,
		"server.allowed_origins":  cfg.Server.AllowedOrigins,
		"server.jwt_secret":       cfg.Server.JWTSecret,
		"server.jwt_issuer":       cfg.Server.JWTIssuer,
		"server.token_ttl":        cfg.Server.TokenTTL,
		"server.send_rate":        cfg.Server.SendRate,
		"server.send_burst":       cfg.Server.SendBurst,
		"server.shutdown_timeout": cfg.Server.ShutdownTimeout,
	}
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key. CLI flags use this to take precedence.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// applyEnvOverrides applies the string-valued overrides that most often
// arrive through the environment (secrets and connection strings).
func (l *Loader) applyEnvOverrides(cfg *Config) {
	v := l.v

	if backend := v.GetString("store.backend"); backend != "" {
		cfg.Store.Backend = backend
	}
	if path := v.GetString("store.path"); path != "" {
		cfg.Store.Path = path
	}
	if dsn := v.GetString("store.dsn"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if backend := v.GetString("feed.backend"); backend != "" {
		cfg.Feed.Backend = backend
	}
	if addr := v.GetString("feed.redis_addr"); addr != "" {
		cfg.Feed.RedisAddr = addr
	}
	if password := v.GetString("feed.redis_password"); password != "" {
		cfg.Feed.RedisPassword = password
	}
	if secret := v.GetString("server.jwt_secret"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if addr := v.GetString("server.addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := v.GetString("logging.level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := v.GetString("logging.format"); format != "" {
		cfg.Logging.Format = format
	}
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}
