package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage backend selectors.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Config holds all environment-based configuration for mcpgate.
//
// The upstream OAuth endpoints describe the identity provider that owns the
// real authorization-code flow. BaseURL is the externally visible address of
// this service; clients are redirected back to it and the discovery metadata
// advertises endpoints relative to it.
type Config struct {
	// Upstream identity provider endpoints (required).
	IssuerURL        string `env:"OAUTH_ISSUER_URL"`
	AuthorizationURL string `env:"OAUTH_AUTHORIZATION_URL"`
	TokenURL         string `env:"OAUTH_TOKEN_URL"`
	RegistrationURL  string `env:"OAUTH_REGISTRATION_URL"`

	// RevocationURL is optional; when empty, the local revocation endpoint
	// reports revocation as unsupported.
	RevocationURL string `env:"OAUTH_REVOCATION_URL"`

	// BaseURL is the externally visible base URL of this service (required).
	BaseURL string `env:"THIS_HOSTNAME"`

	// Storage selects the token vault backend: "memory" or "redis".
	Storage string `env:"STORAGE_BACKEND" envDefault:"memory"`

	// RedisAddr is the address of the Redis server when Storage is "redis".
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// RedisPassword is the optional password for the Redis server.
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Port is the listening port for the HTTP server.
	Port int `env:"PORT" envDefault:"5050"`

	// LogLevel controls log verbosity: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment variables. It first attempts to
// load a .env file if present, then parses env vars and validates the result.
// A validation failure here is fatal at startup: the server refuses to run
// with an incomplete OAuth configuration.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string

	required := []struct {
		name  string
		value string
	}{
		{"OAUTH_ISSUER_URL", c.IssuerURL},
		{"OAUTH_AUTHORIZATION_URL", c.AuthorizationURL},
		{"OAUTH_TOKEN_URL", c.TokenURL},
		{"OAUTH_REGISTRATION_URL", c.RegistrationURL},
		{"THIS_HOSTNAME", c.BaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	urls := []struct {
		name  string
		value string
	}{
		{"OAUTH_ISSUER_URL", c.IssuerURL},
		{"OAUTH_AUTHORIZATION_URL", c.AuthorizationURL},
		{"OAUTH_TOKEN_URL", c.TokenURL},
		{"OAUTH_REGISTRATION_URL", c.RegistrationURL},
		{"THIS_HOSTNAME", c.BaseURL},
	}
	if c.RevocationURL != "" {
		urls = append(urls, struct {
			name  string
			value string
		}{"OAUTH_REVOCATION_URL", c.RevocationURL})
	}
	for _, u := range urls {
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s is not an absolute URL: %q", u.name, u.value)
		}
	}

	switch c.Storage {
	case StorageMemory, StorageRedis:
	default:
		return fmt.Errorf("unknown storage backend %q (expected %q or %q)", c.Storage, StorageMemory, StorageRedis)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	return nil
}
