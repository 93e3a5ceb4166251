// Package config handles HuginDB configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then HUGINDB_* environment variables. Environment variables win, which
// keeps container deployments simple: mount a config file for the stable
// parts and override the rest per environment.
//
// Example Usage:
//
//	cfg, err := config.Load("hugindb.yaml")
//	if err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//	fmt.Printf("HTTP server: %s\n", cfg.Server.ListenAddr())
//
// Environment Variables:
//   - HUGINDB_AUTH="username/password" or "none"
//   - HUGINDB_ENGINE="memory" or "badger"
//   - HUGINDB_DATA_DIR="./data"
//   - HUGINDB_HTTP_ADDRESS=0.0.0.0
//   - HUGINDB_HTTP_PORT=7474
//   - HUGINDB_QUERY_TIMEOUT=30s
//   - HUGINDB_QUERY_CACHE_ENABLED=true
//   - HUGINDB_QUERY_CACHE_SIZE=1000
//   - HUGINDB_QUERY_CACHE_TTL=5m
//   - HUGINDB_LOG_LEVEL=INFO
//   - HUGINDB_SLOW_QUERY_THRESHOLD=5s
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage engine names accepted by Database.Engine.
const (
	EngineMemory = "memory"
	EngineBadger = "badger"
)

// Config holds all HuginDB configuration.
//
// Use Load to build one from defaults, an optional YAML file and the
// environment; the zero value is not usable.
type Config struct {
	// Auth controls HTTP basic authentication.
	Auth AuthConfig `yaml:"auth"`

	// Database selects and configures the storage engine.
	Database DatabaseConfig `yaml:"database"`

	// Server configures the HTTP endpoint.
	Server ServerConfig `yaml:"server"`

	// Query configures statement execution and plan caching.
	Query QueryConfig `yaml:"query"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// Enabled controls whether HTTP requests require credentials.
	Enabled bool `yaml:"enabled"`
	// Username is the single account's name.
	Username string `yaml:"username"`
	// Password is the account's initial password; it is bcrypt-hashed at
	// startup and never kept in plain text after that.
	Password string `yaml:"password"`
	// MinPasswordLength for the password policy.
	MinPasswordLength int `yaml:"min_password_length"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// Engine is "memory" or "badger".
	Engine string `yaml:"engine"`
	// DataDir is the on-disk location for the badger engine.
	DataDir string `yaml:"data_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Enabled controls the HTTP API server.
	Enabled bool `yaml:"enabled"`
	// Address to bind to.
	Address string `yaml:"address"`
	// Port for HTTP connections (default 7474).
	Port int `yaml:"port"`
}

// ListenAddr joins address and port for net/http.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// QueryConfig holds execution settings.
type QueryConfig struct {
	// Timeout is the default per-statement deadline; 0 disables it.
	Timeout time.Duration `yaml:"timeout"`
	// CacheEnabled controls plan caching.
	CacheEnabled bool `yaml:"cache_enabled"`
	// CacheSize is the maximum number of cached plans.
	CacheSize int `yaml:"cache_size"`
	// CacheTTL is how long cached plans remain valid; 0 means no expiry.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR).
	Level string `yaml:"level"`
	// QueryLogEnabled logs every executed statement.
	QueryLogEnabled bool `yaml:"query_log_enabled"`
	// SlowQueryThreshold logs statements that run longer than this.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// Default returns the built-in configuration: in-memory engine, HTTP on
// 7474, auth disabled, caching on.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			Enabled:           false,
			Username:          "admin",
			Password:          "admin",
			MinPasswordLength: 8,
		},
		Database: DatabaseConfig{
			Engine:  EngineMemory,
			DataDir: "./data",
		},
		Server: ServerConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    7474,
		},
		Query: QueryConfig{
			Timeout:      30 * time.Second,
			CacheEnabled: true,
			CacheSize:    1000,
			CacheTTL:     5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:              "INFO",
			QueryLogEnabled:    false,
			SlowQueryThreshold: 5 * time.Second,
		},
	}
}

// Load builds the effective configuration: defaults, overlaid with the
// YAML file at path (skipped when path is ""), overlaid with HUGINDB_*
// environment variables, then validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds the configuration from defaults and environment
// variables only.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	// HUGINDB_AUTH format: "username/password" or "none".
	if authStr := os.Getenv("HUGINDB_AUTH"); authStr != "" {
		if authStr == "none" {
			c.Auth.Enabled = false
		} else {
			c.Auth.Enabled = true
			parts := strings.SplitN(authStr, "/", 2)
			if len(parts) == 2 {
				c.Auth.Username = parts[0]
				c.Auth.Password = parts[1]
			} else {
				c.Auth.Password = authStr
			}
		}
	}
	c.Auth.MinPasswordLength = getEnvInt("HUGINDB_MIN_PASSWORD_LENGTH", c.Auth.MinPasswordLength)

	c.Database.Engine = getEnv("HUGINDB_ENGINE", c.Database.Engine)
	c.Database.DataDir = getEnv("HUGINDB_DATA_DIR", c.Database.DataDir)

	c.Server.Enabled = getEnvBool("HUGINDB_HTTP_ENABLED", c.Server.Enabled)
	c.Server.Address = getEnv("HUGINDB_HTTP_ADDRESS", c.Server.Address)
	c.Server.Port = getEnvInt("HUGINDB_HTTP_PORT", c.Server.Port)

	c.Query.Timeout = getEnvDuration("HUGINDB_QUERY_TIMEOUT", c.Query.Timeout)
	c.Query.CacheEnabled = getEnvBool("HUGINDB_QUERY_CACHE_ENABLED", c.Query.CacheEnabled)
	c.Query.CacheSize = getEnvInt("HUGINDB_QUERY_CACHE_SIZE", c.Query.CacheSize)
	c.Query.CacheTTL = getEnvDuration("HUGINDB_QUERY_CACHE_TTL", c.Query.CacheTTL)

	c.Logging.Level = getEnv("HUGINDB_LOG_LEVEL", c.Logging.Level)
	c.Logging.QueryLogEnabled = getEnvBool("HUGINDB_QUERY_LOG_ENABLED", c.Logging.QueryLogEnabled)
	c.Logging.SlowQueryThreshold = getEnvDuration("HUGINDB_SLOW_QUERY_THRESHOLD", c.Logging.SlowQueryThreshold)
}

// Validate checks the configuration for logical errors and invalid values.
// Call it after any manual mutation; Load already validates.
func (c *Config) Validate() error {
	switch c.Database.Engine {
	case EngineMemory:
	case EngineBadger:
		if c.Database.DataDir == "" {
			return fmt.Errorf("badger engine requires database.data_dir")
		}
	default:
		return fmt.Errorf("unknown storage engine %q (want %q or %q)", c.Database.Engine, EngineMemory, EngineBadger)
	}

	if c.Auth.Enabled {
		if c.Auth.Username == "" {
			return fmt.Errorf("authentication enabled but no username provided")
		}
		if len(c.Auth.Password) < c.Auth.MinPasswordLength {
			return fmt.Errorf("password must be at least %d characters", c.Auth.MinPasswordLength)
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid http port: %d", c.Server.Port)
	}

	if c.Query.Timeout < 0 {
		return fmt.Errorf("query timeout must not be negative")
	}
	if c.Query.CacheEnabled && c.Query.CacheSize <= 0 {
		return fmt.Errorf("invalid query cache size: %d", c.Query.CacheSize)
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// String returns a safe representation with the password elided, suitable
// for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Auth: %v, Engine: %s, HTTP: %s, Timeout: %s, Cache: %v/%d}",
		c.Auth.Enabled,
		c.Database.Engine,
		c.Server.ListenAddr(),
		c.Query.Timeout,
		c.Query.CacheEnabled, c.Query.CacheSize,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// A bare number reads as seconds.
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
