package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override, e.g. SVCPANEL_ADMIN_EMAIL
const EnvPrefix = "SVCPANEL_"

type ServerConfig struct {
	Port         int  `toml:"port" env:"PORT"`
	CookieSecure bool `toml:"cookie_secure" env:"COOKIE_SECURE"`
}

// AdminConfig holds the credential pair the gate accepts
type AdminConfig struct {
	Email        string `toml:"email" env:"EMAIL"`
	Password     string `toml:"password" env:"PASSWORD"`
	PasswordHash string `toml:"password_hash" env:"PASSWORD_HASH"` // bcrypt, preferred over Password
	ShowHint     bool   `toml:"show_hint" env:"SHOW_HINT"`
}

type AuthConfig struct {
	Mode string `toml:"mode" env:"MODE"` // "static" or "remote"
}

// APIConfig tells the dashboard where the settings service lives
type APIConfig struct {
	BaseURL      string        `toml:"base_url" env:"BASE_URL"`
	UpdatePath   string        `toml:"update_path" env:"UPDATE_PATH"`
	Timeout      time.Duration `toml:"timeout" env:"TIMEOUT"`
	RequireToken bool          `toml:"require_token" env:"REQUIRE_TOKEN"`
}

type JWTConfig struct {
	Secret string        `toml:"secret" env:"SECRET"` // For JWT signing
	TTL    time.Duration `toml:"ttl" env:"TTL"`

	// Generated is set when Secret was created at startup. Tokens signed
	// with it do not survive a restart.
	Generated bool `toml:"-"`
}

type StorageConfig struct {
	Driver   string `toml:"driver" env:"DRIVER"` // "bolt", "redis" or "sqlite"
	Path     string `toml:"path" env:"PATH"`
	RedisURL string `toml:"redis_url" env:"REDIS_URL"`
	RedisKey string `toml:"redis_key" env:"REDIS_KEY"`
}

type SessionConfig struct {
	Expiration time.Duration `toml:"expiration" env:"EXPIRATION"`
}

type RateLimitConfig struct {
	Requests int           `toml:"requests" env:"REQUESTS"`
	Window   time.Duration `toml:"window" env:"WINDOW"`
}

// BreakerConfig configures the circuit breaker around settings service calls
type BreakerConfig struct {
	MaxRequests  uint32        `toml:"max_requests" env:"MAX_REQUESTS"`
	Interval     time.Duration `toml:"interval" env:"INTERVAL"`
	Timeout      time.Duration `toml:"timeout" env:"TIMEOUT"`
	MinRequests  uint32        `toml:"min_requests" env:"MIN_REQUESTS"`
	FailureRatio float64       `toml:"failure_ratio" env:"FAILURE_RATIO"`
}

type DashboardConfig struct {
	SerializeWrites bool          `toml:"serialize_writes" env:"SERIALIZE_WRITES"`
	IdleTimeout     time.Duration `toml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Path    string `toml:"path" env:"PATH"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

type Config struct {
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
	Admin     AdminConfig     `toml:"admin" envPrefix:"ADMIN_"`
	Auth      AuthConfig      `toml:"auth" envPrefix:"AUTH_"`
	API       APIConfig       `toml:"api" envPrefix:"API_"`
	JWT       JWTConfig       `toml:"jwt" envPrefix:"JWT_"`
	Storage   StorageConfig   `toml:"storage" envPrefix:"STORAGE_"`
	Session   SessionConfig   `toml:"session" envPrefix:"SESSION_"`
	RateLimit RateLimitConfig `toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Breaker   BreakerConfig   `toml:"breaker" envPrefix:"BREAKER_"`
	Dashboard DashboardConfig `toml:"dashboard" envPrefix:"DASHBOARD_"`
	Metrics   MetricsConfig   `toml:"metrics" envPrefix:"METRICS_"`
	Log       LogConfig       `toml:"log" envPrefix:"LOG_"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	var config Config

	config.Server.Port = 3000
	config.Auth.Mode = "static"

	config.API.UpdatePath = "/settings"
	config.API.Timeout = 5 * time.Second
	config.API.RequireToken = true

	config.JWT.TTL = 12 * time.Hour

	config.Storage.Driver = "bolt"
	config.Storage.Path = "./data"
	config.Storage.RedisKey = "svcpanel:settings"

	config.Session.Expiration = 24 * time.Hour

	config.RateLimit.Requests = 60
	config.RateLimit.Window = time.Minute

	config.Breaker.MaxRequests = 1
	config.Breaker.Interval = time.Minute
	config.Breaker.Timeout = 15 * time.Second
	config.Breaker.MinRequests = 5
	config.Breaker.FailureRatio = 0.6

	config.Dashboard.SerializeWrites = true
	config.Dashboard.IdleTimeout = 2 * time.Hour

	config.Metrics.Path = "/metrics"

	config.Log.Level = "info"
	config.Log.Format = "console"

	return &config
}

// EnsureJWTSecret generates a random signing secret when tokens are required
// and none is configured
func (c *Config) EnsureJWTSecret() error {
	if c.JWT.Secret != "" || !c.API.RequireToken {
		return nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generate jwt secret: %w", err)
	}
	c.JWT.Secret = base64.RawURLEncoding.EncodeToString(buf)
	c.JWT.Generated = true
	return nil
}

// LoadConfig builds the configuration from defaults, an optional .env file,
// the TOML file at filepath (if present) and SVCPANEL_* environment variables,
// in that order of precedence.
func LoadConfig(filepath string) (*Config, error) {
	config := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if filepath != "" {
		if _, err := toml.DecodeFile(filepath, config); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to decode %s: %w", filepath, err)
			}
		}
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if config.API.BaseURL == "" {
		config.API.BaseURL = fmt.Sprintf("http://127.0.0.1:%d/api", config.Server.Port)
	}
	config.API.BaseURL = strings.TrimRight(config.API.BaseURL, "/")

	if err := config.EnsureJWTSecret(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Auth.Mode {
	case "static":
		if err := c.ValidateAdmin(); err != nil {
			return err
		}
	case "remote":
	default:
		return fmt.Errorf("auth.mode must be \"static\" or \"remote\", got %q", c.Auth.Mode)
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not an absolute http(s) URL", c.API.BaseURL)
	}
	if !strings.HasPrefix(c.API.UpdatePath, "/") {
		return fmt.Errorf("api.update_path must start with /")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}

	if c.API.RequireToken && c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required when api.require_token is set")
	}

	switch c.Storage.Driver {
	case "bolt", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.requests and rate_limit.window must be positive")
	}

	return nil
}

// ValidateAdmin checks that a credential pair is configured
func (c *Config) ValidateAdmin() error {
	if c.Admin.Email == "" {
		return fmt.Errorf("admin.email is required in static auth mode")
	}
	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return fmt.Errorf("admin.password or admin.password_hash is required in static auth mode")
	}
	return nil
}

// Address returns the listen address of the HTTP server
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
