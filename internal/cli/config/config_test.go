package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
}

func TestLoad(t *testing.T) {
	// no config file: defaults only
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error loading defaults, got %v", err)
	}

	if cfg.Server.Address() != "localhost:8080" {
		t.Errorf("expected default address localhost:8080, got %s", cfg.Server.Address())
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected default shutdown timeout 30s, got %s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Database.URL != "" {
		t.Errorf("expected records in memory by default, got %s", cfg.Database.URL)
	}
	if cfg.Cache.Backend != BackendMemory || cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("expected default token ttl 12h, got %s", cfg.Auth.TokenTTL)
	}
	if cfg.RateLimit.Limit != 10 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("unexpected ratelimit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Pagination.PageSize != 10 {
		t.Errorf("expected default page size 10, got %d", cfg.Pagination.PageSize)
	}
	if cfg.Profiling.Enabled || cfg.Profiling.Path != "/debug/pprof" {
		t.Errorf("unexpected profiling defaults: %+v", cfg.Profiling)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	chdir(t, tmpDir)

	configContent := `
server:
  host: 0.0.0.0
  port: 9090
database:
  driver: pgx
  url: postgres://localhost/library
cache:
  backend: redis
  redis_addr: cache:6379
  ttl: 90s
tasks:
  backend: sql
auth:
  secret: a-very-long-signing-secret
  token_ttl: 1h
pagination:
  page_size: 25
users:
  - id: 1
    username: ada
    password_hash: "$2a$10$abcdefghijklmnopqrstuu"
    roles: [librarian]
  - id: 2
    username: root
    superuser: true
`
	if err := os.WriteFile(filepath.Join(tmpDir, "conduit-admin.yml"), []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Server.Address() != "0.0.0.0:9090" {
		t.Errorf("expected address 0.0.0.0:9090, got %s", cfg.Server.Address())
	}
	if cfg.Database.Driver != "pgx" || cfg.Database.URL != "postgres://localhost/library" {
		t.Errorf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Cache.Backend != BackendRedis || cfg.Cache.RedisAddr != "cache:6379" || cfg.Cache.TTL != 90*time.Second {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Tasks.Backend != BackendSQL {
		t.Errorf("expected sql task backend, got %s", cfg.Tasks.Backend)
	}
	if cfg.Pagination.PageSize != 25 {
		t.Errorf("expected page size 25, got %d", cfg.Pagination.PageSize)
	}

	if len(cfg.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(cfg.Users))
	}
	if cfg.Users[0].Username != "ada" || len(cfg.Users[0].Roles) != 1 || cfg.Users[0].Roles[0] != "librarian" {
		t.Errorf("unexpected first user: %+v", cfg.Users[0])
	}
	if !cfg.Users[1].Superuser {
		t.Error("expected root to be a superuser")
	}

	dir, err := cfg.Directory()
	if err != nil {
		t.Fatalf("expected directory, got %v", err)
	}
	if names := dir.Usernames(); len(names) != 2 {
		t.Errorf("expected 2 usernames, got %v", names)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONDUIT_ADMIN_SERVER_PORT", "7070")
	t.Setenv("CONDUIT_ADMIN_AUTH_SECRET", "secret-from-the-environment")
	t.Setenv("CONDUIT_ADMIN_CACHE_BACKEND", "none")
	t.Setenv("CONDUIT_ADMIN_DATABASE_URL", "postgres://admin@db/admin")
	t.Setenv("CONDUIT_ADMIN_DATABASE_DRIVER", "pgx")
	t.Setenv("CONDUIT_ADMIN_PROFILING_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070 from env, got %d", cfg.Server.Port)
	}
	if cfg.Auth.Secret != "secret-from-the-environment" {
		t.Errorf("expected secret from env, got %q", cfg.Auth.Secret)
	}
	if cfg.Cache.Backend != BackendNone {
		t.Errorf("expected cache backend none, got %s", cfg.Cache.Backend)
	}
	if cfg.Database.URL != "postgres://admin@db/admin" || cfg.Database.Driver != "pgx" {
		t.Errorf("expected database from env, got %+v", cfg.Database)
	}
	if !cfg.Profiling.Enabled {
		t.Error("expected profiling enabled from env")
	}
}

func TestLoadExplicitPath(t *testing.T) {
	chdir(t, t.TempDir())

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}

	path := filepath.Join(t.TempDir(), "admin.yaml")
	os.WriteFile(path, []byte("server:\n  port: 8181\n"), 0644)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("expected port 8181, got %d", cfg.Server.Port)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:     ServerConfig{Host: "localhost", Port: 8080},
			Database:   DatabaseConfig{Driver: "sqlite3"},
			Cache:      CacheConfig{Backend: BackendMemory},
			Tasks:      TasksConfig{Backend: BackendMemory},
			Auth:       AuthConfig{TokenTTL: time.Hour},
			RateLimit:  RateLimitConfig{Backend: BackendMemory, Limit: 5, Window: time.Minute},
			Pagination: PaginationConfig{PageSize: 10},
			Logging:    LoggingConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"cert without key", func(c *Config) { c.Server.CertFile = "cert.pem" }, "cert_file"},
		{"unknown driver", func(c *Config) { c.Database = DatabaseConfig{Driver: "mysql", URL: "x"} }, "database.driver"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"sql tasks without database", func(c *Config) { c.Tasks.Backend = BackendSQL }, "database.url"},
		{"zero limit", func(c *Config) { c.RateLimit.Limit = 0 }, "ratelimit"},
		{"disabled limiter ignores limit", func(c *Config) { c.RateLimit = RateLimitConfig{Backend: BackendNone} }, ""},
		{"short secret", func(c *Config) { c.Auth.Secret = "short" }, "auth.secret"},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "auth.token_ttl"},
		{"zero page size", func(c *Config) { c.Pagination.PageSize = 0 }, "page_size"},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"relative profiling path", func(c *Config) { c.Profiling = ProfilingConfig{Enabled: true, Path: "pprof"} }, "profiling.path"},
		{"profiling path ignored when disabled", func(c *Config) { c.Profiling.Path = "pprof" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoggingConfigLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "debug", Development: true}.Logger()
	if err != nil {
		t.Fatalf("expected logger, got %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Error("expected debug level to be enabled")
	}

	if _, err := (LoggingConfig{Level: "loud"}).Logger(); err == nil {
		t.Error("expected error for an unknown level")
	}
}
