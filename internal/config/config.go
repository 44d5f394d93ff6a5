package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Database drivers supported by the session store
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DefaultProgramID is the relay program deployed on devnet
const DefaultProgramID = "JCbSFuVLdwzefyEDV4bjMjA16qW7eivCrN8mkZV5iZAY"

// Config holds the application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Session  SessionConfig  `yaml:"session"`
	Reaper   ReaperConfig   `yaml:"reaper"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds app-specific configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	BodyLimit      int             `yaml:"body_limit"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-IP rate limiting settings
type RateLimitConfig struct {
	Max        int `yaml:"max"`
	Expiration int `yaml:"expiration"` // seconds
}

// AuthConfig controls the bearer token gate in front of the session API
type AuthConfig struct {
	Enabled   bool     `yaml:"enabled"`
	KeysPath  string   `yaml:"keys_path"`
	ActiveKID string   `yaml:"active_kid"`
	Issuer    string   `yaml:"issuer"`
	Audience  []string `yaml:"audience"`
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres, sqlite, memory
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	Path         string `yaml:"path"` // sqlite file
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds redis-specific configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LedgerConfig holds the RPC endpoint and program settings
type LedgerConfig struct {
	RPCURL              string `yaml:"rpc_url"`
	ProgramID           string `yaml:"program_id"`
	Commitment          string `yaml:"commitment"`
	PreflightCommitment string `yaml:"preflight_commitment"`
	SkipPreflight       bool   `yaml:"skip_preflight"`
	RequireOnChain      bool   `yaml:"require_onchain"`
	RequestTimeout      string `yaml:"request_timeout"`
}

// SessionConfig bounds the lifetime a client may request at registration
type SessionConfig struct {
	MaxTTL string `yaml:"max_ttl"`
	MinTTL string `yaml:"min_ttl"`
}

// ReaperConfig holds the expiration sweep settings
type ReaperConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Interval  string `yaml:"interval"`
	BatchSize int    `yaml:"batch_size"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyLimit == 0 {
		c.Server.BodyLimit = 1024 * 1024
	}
	if c.Server.RateLimit.Max == 0 {
		c.Server.RateLimit.Max = 120
	}
	if c.Server.RateLimit.Expiration == 0 {
		c.Server.RateLimit.Expiration = 60
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "./keyrelay.db"
	}
	if c.Ledger.RPCURL == "" {
		c.Ledger.RPCURL = "https://api.devnet.solana.com"
	}
	if c.Ledger.ProgramID == "" {
		c.Ledger.ProgramID = DefaultProgramID
	}
	if c.Ledger.Commitment == "" {
		c.Ledger.Commitment = "finalized"
	}
	if c.Ledger.PreflightCommitment == "" {
		c.Ledger.PreflightCommitment = "confirmed"
	}
	if c.Reaper.BatchSize == 0 {
		c.Reaper.BatchSize = 500
	}
}

// ApplyEnv overrides secrets and endpoints from the environment
func (c *Config) ApplyEnv(env *Environment) {
	if env.DatabasePassword != "" {
		c.Database.Password = env.DatabasePassword
	}
	if env.RedisPassword != "" {
		c.Redis.Password = env.RedisPassword
	}
	if env.RPCURL != "" {
		c.Ledger.RPCURL = env.RPCURL
	}
	if env.ProgramID != "" {
		c.Ledger.ProgramID = env.ProgramID
	}
}

// Validate checks settings that would otherwise fail late at runtime
func (c *Config) Validate(env EnvironmentType) error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	case DriverMemory:
		if env == EnvironmentProduction {
			return errors.New("memory database driver is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Ledger.ProgramID == "" {
		return errors.New("ledger program_id is required")
	}
	if c.Auth.Enabled && c.Auth.KeysPath == "" {
		return errors.New("auth keys_path is required when auth is enabled")
	}

	for name, d := range map[string]string{
		"ledger.request_timeout": c.Ledger.RequestTimeout,
		"session.max_ttl":        c.Session.MaxTTL,
		"session.min_ttl":        c.Session.MinTTL,
		"reaper.interval":        c.Reaper.Interval,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	return nil
}

// Address returns the server address in the format "host:port"
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the redis address in the format "host:port"
func (r *RedisConfig) Address() string {
	return net.JoinHostPort(r.Host, fmt.Sprintf("%d", r.Port))
}

// RequestTimeoutDuration returns the per-call RPC deadline
func (l *LedgerConfig) RequestTimeoutDuration() time.Duration {
	return parseDuration(l.RequestTimeout, 15*time.Second)
}

// MaxTTLDuration returns the longest lifetime accepted at registration
func (s *SessionConfig) MaxTTLDuration() time.Duration {
	return parseDuration(s.MaxTTL, 24*time.Hour)
}

// MinTTLDuration returns the shortest lifetime accepted at registration
func (s *SessionConfig) MinTTLDuration() time.Duration {
	return parseDuration(s.MinTTL, time.Minute)
}

// IntervalDuration returns the time between two expiration sweeps
func (r *ReaperConfig) IntervalDuration() time.Duration {
	return parseDuration(r.Interval, 60*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// quoteDSNValue quotes a DSN value if it contains spaces or special characters.
// Single quotes inside the value are escaped by doubling them.
func quoteDSNValue(value string) string {
	needsQuoting := false
	for _, r := range value {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == '@' || r == ':') {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	escaped := make([]rune, 0, len(value))
	for _, r := range value {
		if r == '\'' {
			escaped = append(escaped, '\'', '\'')
			continue
		}
		escaped = append(escaped, r)
	}

	return "'" + string(escaped) + "'"
}

// DSN returns the postgres connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSNValue(d.Host),
		d.Port,
		quoteDSNValue(d.User),
		quoteDSNValue(d.Password),
		quoteDSNValue(d.DBName),
		quoteDSNValue(d.SSLMode),
	)
}

// URL returns the database connection URL in postgres:// format for golang-migrate
func (d *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port)),
		Path:     "/" + d.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s&search_path=public", url.QueryEscape(d.SSLMode)),
	}

	return u.String()
}
