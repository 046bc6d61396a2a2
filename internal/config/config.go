// ABOUTME: Configuration loading and parsing for the parley gateway
// ABOUTME: YAML or TOML files with ${VAR} expansion, PARLEY_* env overlay and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PARLEY_AUTH_JWT_SECRET.
const EnvPrefix = "PARLEY_"

// MinJWTSecretLength is the shortest accepted auth.jwt_secret.
const MinJWTSecretLength = 32

// Config represents the complete parley configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" toml:"database" envPrefix:"DATABASE_"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	Realtime RealtimeConfig `yaml:"realtime" toml:"realtime" envPrefix:"REALTIME_"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis" envPrefix:"REDIS_"`
	Users    UsersConfig    `yaml:"users" toml:"users" envPrefix:"USERS_"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" toml:"max_body_bytes" env:"MAX_BODY_BYTES"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig selects the store backend.
// Driver is "sqlite" (pure Go), "sqlite3" (cgo) or "postgres".
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" toml:"path" env:"PATH"`
	DSN    string `yaml:"dsn" toml:"dsn" env:"DSN"`
}

// IsPostgres reports whether the postgres backend is selected.
func (d DatabaseConfig) IsPostgres() bool {
	return d.Driver == "postgres" || d.Driver == "pgx"
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
	BcryptCost int    `yaml:"bcrypt_cost" toml:"bcrypt_cost" env:"BCRYPT_COST"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl" env:"TOKEN_TTL"`
}

// RealtimeConfig tunes websocket sessions and idempotent sends
type RealtimeConfig struct {
	SendBuffer    int   `yaml:"send_buffer" toml:"send_buffer" env:"SEND_BUFFER"`
	MaxFrameBytes int64 `yaml:"max_frame_bytes" toml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
	DedupeSize    int   `yaml:"dedupe_size" toml:"dedupe_size" env:"DEDUPE_SIZE"`

	PingInterval time.Duration `yaml:"-" toml:"-"`
	PongWait     time.Duration `yaml:"-" toml:"-"`
	WriteWait    time.Duration `yaml:"-" toml:"-"`
	DedupeTTL    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for YAML/TOML unmarshaling
	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval" env:"PING_INTERVAL"`
	PongWaitRaw     string `yaml:"pong_wait" toml:"pong_wait" env:"PONG_WAIT"`
	WriteWaitRaw    string `yaml:"write_wait" toml:"write_wait" env:"WRITE_WAIT"`
	DedupeTTLRaw    string `yaml:"dedupe_ttl" toml:"dedupe_ttl" env:"DEDUPE_TTL"`
}

// RedisConfig enables multi-node fan-out and locking. Empty URL means single node.
type RedisConfig struct {
	URL     string `yaml:"url" toml:"url" env:"URL"`
	Channel string `yaml:"channel" toml:"channel" env:"CHANNEL"`

	LockExpiry    time.Duration `yaml:"-" toml:"-"`
	LockExpiryRaw string        `yaml:"lock_expiry" toml:"lock_expiry" env:"LOCK_EXPIRY"`
}

// Enabled reports whether a redis URL is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// UsersConfig holds user directory configuration
type UsersConfig struct {
	AvatarURLTemplate string `yaml:"avatar_url_template" toml:"avatar_url_template" env:"AVATAR_URL_TEMPLATE"`
	ProfileCacheSize  int    `yaml:"profile_cache_size" toml:"profile_cache_size" env:"PROFILE_CACHE_SIZE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" toml:"path" env:"PATH"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, then PARLEY_*
// variables override individual fields. Duration strings are parsed into
// time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is the encoding of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes already-expanded config text and runs the rest of the load pipeline.
func Parse(data string, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "localhost:8080"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.ShutdownTimeoutRaw == "" {
		cfg.Server.ShutdownTimeoutRaw = "10s"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}

	if cfg.Auth.TokenTTLRaw == "" {
		cfg.Auth.TokenTTLRaw = "720h"
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}

	if cfg.Realtime.SendBuffer == 0 {
		cfg.Realtime.SendBuffer = 64
	}
	if cfg.Realtime.MaxFrameBytes == 0 {
		cfg.Realtime.MaxFrameBytes = 64 * 1024
	}
	if cfg.Realtime.DedupeSize == 0 {
		cfg.Realtime.DedupeSize = 10000
	}
	if cfg.Realtime.PingIntervalRaw == "" {
		cfg.Realtime.PingIntervalRaw = "30s"
	}
	if cfg.Realtime.PongWaitRaw == "" {
		cfg.Realtime.PongWaitRaw = "60s"
	}
	if cfg.Realtime.WriteWaitRaw == "" {
		cfg.Realtime.WriteWaitRaw = "10s"
	}
	if cfg.Realtime.DedupeTTLRaw == "" {
		cfg.Realtime.DedupeTTLRaw = "10m"
	}

	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "parley:events"
	}
	if cfg.Redis.LockExpiryRaw == "" {
		cfg.Redis.LockExpiryRaw = "8s"
	}

	if cfg.Users.ProfileCacheSize == 0 {
		cfg.Users.ProfileCacheSize = 1024
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must not be negative")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case "postgres", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported (use sqlite, sqlite3 or postgres)", c.Database.Driver)
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if c.Realtime.PingInterval > 0 && c.Realtime.PongWait <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_wait must be longer than realtime.ping_interval")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"realtime.ping_interval", cfg.Realtime.PingIntervalRaw, &cfg.Realtime.PingInterval},
		{"realtime.pong_wait", cfg.Realtime.PongWaitRaw, &cfg.Realtime.PongWait},
		{"realtime.write_wait", cfg.Realtime.WriteWaitRaw, &cfg.Realtime.WriteWait},
		{"realtime.dedupe_ttl", cfg.Realtime.DedupeTTLRaw, &cfg.Realtime.DedupeTTL},
		{"redis.lock_expiry", cfg.Redis.LockExpiryRaw, &cfg.Redis.LockExpiry},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
