package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/conduit-lang/admin/internal/web/auth"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes environment overrides: CONDUIT_ADMIN_SERVER_PORT sets server.port
const EnvPrefix = "CONDUIT_ADMIN"

// Backend names shared by the cache, tasks and ratelimit sections
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
	BackendNone   = "none"
)

// Config represents the conduit-admin configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Profiling  ProfilingConfig  `mapstructure:"profiling"`
	Users      []auth.User      `mapstructure:"users"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	CertFile        string        `mapstructure:"cert_file"`
	KeyFile         string        `mapstructure:"key_file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig selects the record store. An empty URL keeps records in memory.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// CacheConfig configures the slot cache. Every redis backend connects to RedisAddr.
type CacheConfig struct {
	Backend   string        `mapstructure:"backend"`
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// TasksConfig selects where background task progress is kept
type TasksConfig struct {
	Backend   string        `mapstructure:"backend"`
	Retention time.Duration `mapstructure:"retention"`
}

// AuthConfig configures token signing
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// RateLimitConfig throttles token requests per client and username
type RateLimitConfig struct {
	Backend string        `mapstructure:"backend"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// PaginationConfig sets the page size of collections that do not choose one
type PaginationConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ProfilingConfig mounts the pprof endpoints for superusers
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	// keys without a default still need one for CONDUIT_ADMIN_* to reach Unmarshal
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.url", "")
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("tasks.backend", BackendMemory)
	v.SetDefault("tasks.retention", "24h")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("ratelimit.backend", BackendMemory)
	v.SetDefault("ratelimit.limit", 10)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("pagination.page_size", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.path", "/debug/pprof")
}

// Load reads conduit-admin.yml (or .yaml) from the working directory, or
// path when given, and applies CONDUIT_ADMIN_* environment overrides.
// A missing default file is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("conduit-admin")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got: %d", cfg.Server.Port)
	}
	if (cfg.Server.CertFile == "") != (cfg.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}
	if cfg.Database.URL != "" {
		if _, err := store.DialectFor(cfg.Database.Driver); err != nil {
			return fmt.Errorf("database.driver: %w", err)
		}
	}
	if err := oneOf("cache.backend", cfg.Cache.Backend, BackendMemory, BackendRedis, BackendNone); err != nil {
		return err
	}
	if err := oneOf("tasks.backend", cfg.Tasks.Backend, BackendMemory, BackendRedis, BackendSQL, BackendNone); err != nil {
		return err
	}
	if cfg.Tasks.Backend == BackendSQL && cfg.Database.URL == "" {
		return fmt.Errorf("tasks.backend sql needs database.url")
	}
	if err := oneOf("ratelimit.backend", cfg.RateLimit.Backend, BackendMemory, BackendRedis, BackendNone); err != nil {
		return err
	}
	if cfg.RateLimit.Backend != BackendNone && (cfg.RateLimit.Limit < 1 || cfg.RateLimit.Window <= 0) {
		return fmt.Errorf("ratelimit.limit and ratelimit.window must be positive")
	}
	if cfg.Auth.Secret != "" && len(cfg.Auth.Secret) < 16 {
		return fmt.Errorf("auth.secret must be at least 16 characters")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got: %s", cfg.Auth.TokenTTL)
	}
	if cfg.Pagination.PageSize < 1 {
		return fmt.Errorf("pagination.page_size must be positive, got: %d", cfg.Pagination.PageSize)
	}
	if cfg.Profiling.Enabled && !strings.HasPrefix(cfg.Profiling.Path, "/") {
		return fmt.Errorf("profiling.path must start with /, got: %q", cfg.Profiling.Path)
	}
	if _, err := cfg.Logging.level(); err != nil {
		return err
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got: %q", key, strings.Join(allowed, ", "), value)
}

// Directory builds the user directory from the configured accounts
func (c *Config) Directory() (*auth.Directory, error) {
	dir, err := auth.NewDirectory(c.Users...)
	if err != nil {
		return nil, fmt.Errorf("invalid users: %w", err)
	}
	return dir, nil
}

func (l LoggingConfig) level() (zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// Logger builds the process logger: JSON in production, console output in development
func (l LoggingConfig) Logger() (*zap.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
