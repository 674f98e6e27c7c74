// Package config handles loading and validating gateway configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/persona"
)

// EnvPrefix marks environment variables that override config values.
const EnvPrefix = "PERSONAGATE_"

// Registry backends.
const (
	BackendStatic = "static"
	BackendRedis  = "redis"
)

// Config is the top-level configuration for the persona gateway.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Upstream  UpstreamConfig            `koanf:"upstream"`
	Registry  RegistryConfig            `koanf:"registry"`
	Log       LogConfig                 `koanf:"log"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Personas  []PersonaConfig           `koanf:"personas"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// AllowedOrigins lists frontends allowed to call the API from a
	// browser. "*" allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// Per-client token bucket on /api/chat. A rate of 0 disables it.
	RateLimitPerSecond float64 `koanf:"rate_limit_per_second"`
	RateLimitBurst     int     `koanf:"rate_limit_burst"`
}

// UpstreamConfig bounds calls to LLM providers.
type UpstreamConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// RegistryConfig selects where personas come from.
type RegistryConfig struct {
	Backend   string `koanf:"backend"`    // "static" (from personas below) or "redis"
	RedisURL  string `koanf:"redis_url"`  // e.g. redis://localhost:6379/0
	KeyPrefix string `koanf:"key_prefix"` // hash key prefix, e.g. "persona:"
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// ProviderConfig holds the settings for a single upstream family. API
// keys are NOT configured here; each persona names its own secret.
type ProviderConfig struct {
	BaseURL string `koanf:"base_url"`
}

// PersonaConfig is one nickname mapping as written in YAML.
type PersonaConfig struct {
	Nickname      string `koanf:"nickname"`
	Provider      string `koanf:"provider"`
	Model         string `koanf:"model"`
	CredentialKey string `koanf:"credential_key"`
	DisplayName   string `koanf:"display_name"`
	Description   string `koanf:"description"`
}

// Load layers configuration from, lowest to highest priority:
//
//  1. built-in defaults (see defaults.go)
//  2. the YAML file at path, if it exists
//  3. PERSONAGATE_* environment variables
//
// A .env file in the working directory is loaded into the process
// environment first, so both overrides and persona secrets can live there.
func Load(path string) (*Config, error) {
	// Ignored if not present.
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(defaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checking config file: %w", err)
		}
	}

	// PERSONAGATE_SERVER_READ_TIMEOUT -> server.read_timeout. Only the
	// first underscore separates the section; the rest belong to the key.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in values that commonly embed
	// secrets or per-machine hosts.
	cfg.Registry.RedisURL = expand(cfg.Registry.RedisURL)
	for name, p := range cfg.Providers {
		p.BaseURL = expand(p.BaseURL)
		cfg.Providers[name] = p
	}

	return &cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

// expand resolves a whole-value ${VAR} placeholder from the environment.
func expand(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}
	if c.Server.RateLimitPerSecond < 0 {
		errs = append(errs, errors.New("server.rate_limit_per_second must not be negative"))
	}
	if c.Server.RateLimitPerSecond > 0 && c.Server.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("server.rate_limit_burst must be positive when rate limiting is on"))
	}
	for name := range c.Providers {
		if !persona.Provider(name).Valid() {
			errs = append(errs, fmt.Errorf("providers: unknown provider %q", name))
		}
	}

	switch c.Registry.Backend {
	case BackendStatic:
		if len(c.Personas) == 0 {
			errs = append(errs, errors.New("personas: at least one persona is required with the static registry"))
		}
	case BackendRedis:
		if c.Registry.RedisURL == "" {
			errs = append(errs, errors.New("registry.redis_url is required with the redis registry"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.backend: unknown backend %q (supported: %s, %s)",
			c.Registry.Backend, BackendStatic, BackendRedis))
	}

	return errors.Join(errs...)
}

// PersonaMappings converts the configured personas into registry mappings.
func (c *Config) PersonaMappings() []persona.Mapping {
	out := make([]persona.Mapping, 0, len(c.Personas))
	for _, p := range c.Personas {
		out = append(out, persona.Mapping{
			Nickname:      p.Nickname,
			Provider:      persona.Provider(p.Provider),
			Model:         p.Model,
			CredentialKey: p.CredentialKey,
			DisplayName:   p.DisplayName,
			Description:   p.Description,
		})
	}
	return out
}
