// Package config loads service settings in three layers: struct defaults,
// an optional YAML file and environment variables, later layers winning.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/GaussAA/fastify-react-app-enhance-sub003/internal/auth"
)

// PathEnvVar names the environment variable that points at a YAML file.
const PathEnvVar = "APP_CONFIG"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Authz     AuthzConfig     `koanf:"authz"`
	Audit     AuditConfig     `koanf:"audit"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	Port            int           `koanf:"port" validate:"min=0,max=65535"`
	GRPCAddr        string        `koanf:"grpc_addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	TrustedProxies  []string      `koanf:"trusted_proxies" validate:"dive,ip|cidr"`
}

// ListenAddr prefers an explicit port (the PORT variable) over Addr.
func (s ServerConfig) ListenAddr() string {
	if s.Port > 0 {
		return ":" + strconv.Itoa(s.Port)
	}
	return s.Addr
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns" validate:"min=0"`
	MaxIdleConns int    `koanf:"max_idle_conns" validate:"min=0"`
}

type AuthConfig struct {
	JWTSecret         string `koanf:"jwt_secret"`
	AccessTokenExpiry string `koanf:"access_token_expiry"`
}

// AccessTTL parses AccessTokenExpiry, falling back to the token default.
func (a AuthConfig) AccessTTL() (time.Duration, error) {
	if strings.TrimSpace(a.AccessTokenExpiry) == "" {
		return auth.DefaultAccessTTL, nil
	}
	return ParseDuration(a.AccessTokenExpiry)
}

const (
	SourcePostgres = "postgres"
	SourceCasbin   = "casbin"
)

type AuthzConfig struct {
	Source          string        `koanf:"source" validate:"oneof=postgres casbin"`
	ModelPath       string        `koanf:"model_path"`
	PolicyPath      string        `koanf:"policy_path"`
	CacheTTL        time.Duration `koanf:"cache_ttl" validate:"min=0"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"min=0"`
}

type AuditConfig struct {
	BufferSize   int           `koanf:"buffer_size" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
}

type RateLimitConfig struct {
	Enabled   bool          `koanf:"enabled"`
	PerSecond float64       `koanf:"per_second" validate:"gte=0"`
	Burst     int           `koanf:"burst" validate:"gte=0"`
	Capacity  int           `koanf:"capacity" validate:"gte=0"`
	TTL       time.Duration `koanf:"ttl" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 50,
			MaxIdleConns: 25,
		},
		Auth: AuthConfig{
			AccessTokenExpiry: "7d",
		},
		Authz: AuthzConfig{
			Source:          SourcePostgres,
			CacheTTL:        30 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  15 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize:   1024,
			WriteTimeout: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerSecond: 20,
			Burst:     40,
			Capacity:  10000,
			TTL:       10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads defaults, the optional file and the environment, then validates.
// A missing signing secret is reported as auth.ErrSigningKeyUnavailable.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for _, path := range []string{"server.cors_origins", "server.trusted_proxies"} {
		if err := splitList(k, path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-field rules.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("config: %w", auth.ErrSigningKeyUnavailable)
	}
	if _, err := c.Auth.AccessTTL(); err != nil {
		return fmt.Errorf("config: auth.access_token_expiry: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Authz.Source == SourcePostgres && strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database.dsn is required when authz.source is postgres")
	}
	if c.RateLimit.Enabled && (c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 || c.RateLimit.Capacity <= 0) {
		return errors.New("config: ratelimit.per_second, burst and capacity must be positive when enabled")
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitList turns a comma-separated env value into a slice. YAML lists pass
// through unchanged.
func splitList(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

var envMappings = map[string]string{
	"port":                   "server.port",
	"http_addr":              "server.addr",
	"grpc_addr":              "server.grpc_addr",
	"read_timeout":           "server.read_timeout",
	"write_timeout":          "server.write_timeout",
	"shutdown_timeout":       "server.shutdown_timeout",
	"max_body_bytes":         "server.max_body_bytes",
	"cors_origins":           "server.cors_origins",
	"trusted_proxies":        "server.trusted_proxies",
	"database_url":           "database.dsn",
	"db_max_open_conns":      "database.max_open_conns",
	"db_max_idle_conns":      "database.max_idle_conns",
	"jwt_secret":             "auth.jwt_secret",
	"jwt_expires_in":         "auth.access_token_expiry",
	"authz_source":           "authz.source",
	"authz_model_path":       "authz.model_path",
	"authz_policy_path":      "authz.policy_path",
	"authz_cache_ttl":        "authz.cache_ttl",
	"authz_breaker_failures": "authz.breaker_failures",
	"authz_breaker_timeout":  "authz.breaker_timeout",
	"audit_buffer_size":      "audit.buffer_size",
	"audit_write_timeout":    "audit.write_timeout",
	"rate_limit_enabled":     "ratelimit.enabled",
	"rate_limit_per_second":  "ratelimit.per_second",
	"rate_limit_burst":       "ratelimit.burst",
	"rate_limit_capacity":    "ratelimit.capacity",
	"rate_limit_ttl":         "ratelimit.ttl",
	"log_level":              "log.level",
	"log_format":             "log.format",
}

// envTransformFunc maps known variable names to config paths. Unknown names
// and empty values are skipped so they cannot shadow file or default values.
func envTransformFunc(key, value string) (string, any) {
	path, ok := envMappings[strings.ToLower(key)]
	if !ok || strings.TrimSpace(value) == "" {
		return "", nil
	}
	return path, value
}
