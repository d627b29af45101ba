// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Server   ServerConfig             `koanf:"server"`
	Backends map[string]BackendConfig `koanf:"backends"`
	Router   RouterConfig             `koanf:"router"`
}

// ServerConfig holds the demonstration HTTP server's settings (cmd/gateway).
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// StreamingConfig controls a backend's default streaming behavior.
type StreamingConfig struct {
	IncludeBoth bool   `koanf:"include_both"`
	DefaultMode string `koanf:"default_mode"`
}

// BackendConfig holds the settings for one registered backend adapter.
// Field set matches spec.md §6's enumerated per-backend configuration.
type BackendConfig struct {
	Type             string            `koanf:"type"` // "openai" | "anthropic" | "gemini"
	APIKey           string            `koanf:"api_key"`
	BaseURL          string            `koanf:"base_url"`
	Timeout          time.Duration     `koanf:"timeout"`
	MaxRetries       int               `koanf:"max_retries"`
	Headers          map[string]string `koanf:"headers"`
	Debug            bool              `koanf:"debug"`
	DefaultModel     string            `koanf:"default_model"`
	Streaming        StreamingConfig   `koanf:"streaming"`
	Models           []string          `koanf:"models"`
	CacheModels      bool              `koanf:"cache_models"`
	ModelsCacheTTL   time.Duration     `koanf:"models_cache_ttl"`
	ModelsCacheScope string            `koanf:"models_cache_scope"`
	Extra            map[string]any    `koanf:"extra"`
}

// RouterConfig holds the router's selection/fallback/circuit-breaker
// policy as loaded from configuration; routing/fallback callables and the
// fallback chain itself are wired in code, not config.
type RouterConfig struct {
	RoutingStrategy         string        `koanf:"routing_strategy"`
	FallbackStrategy        string        `koanf:"fallback_strategy"`
	DefaultBackend          string        `koanf:"default_backend"`
	HealthCheckInterval     time.Duration `koanf:"health_check_interval"`
	EnableCircuitBreaker    bool          `koanf:"enable_circuit_breaker"`
	CircuitBreakerThreshold int           `koanf:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `koanf:"circuit_breaker_timeout"`
	TrackLatency            bool          `koanf:"track_latency"`
	TrackCost               bool          `koanf:"track_cost"`
}

// defaults applied after unmarshal, mirroring spec.md §4.6/§6 defaults.
func (c *Config) applyDefaults() {
	if c.Router.CircuitBreakerThreshold == 0 {
		c.Router.CircuitBreakerThreshold = 5
	}
	if c.Router.CircuitBreakerTimeout == 0 {
		c.Router.CircuitBreakerTimeout = 60 * time.Second
	}
	for name, b := range c.Backends {
		if b.Timeout == 0 {
			b.Timeout = 30 * time.Second
		}
		if b.ModelsCacheTTL == 0 {
			b.ModelsCacheTTL = time.Hour
		}
		if b.ModelsCacheScope == "" {
			b.ModelsCacheScope = "global"
		}
		c.Backends[name] = b
	}
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "GATEWAY_" can override a config value. The callback transforms the
	// env var name into a koanf key path:
	//   GATEWAY_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("GATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "GATEWAY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal the loaded key-value pairs into our Config struct.
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in backend API keys. koanf doesn't do
	// this automatically, so we handle it ourselves using os.Getenv to
	// look up the actual environment variable value.
	for name, b := range cfg.Backends {
		if strings.HasPrefix(b.APIKey, "${") && strings.HasSuffix(b.APIKey, "}") {
			envVar := b.APIKey[2 : len(b.APIKey)-1] // strip ${ and }
			b.APIKey = os.Getenv(envVar)
			cfg.Backends[name] = b // write back into the map
		}
	}

	cfg.applyDefaults()

	return &cfg, nil
}
