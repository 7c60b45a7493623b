// Package config provides configuration loading using koanf.
// Precedence: environment variables over compiled defaults.
package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/aelexs/connection-gateway/internal/domain"
)

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Port is the raw PORT value. It is kept as a string so that a
	// non-numeric value surfaces as a configuration error instead of a
	// decode failure; use HTTPPort for the parsed value.
	Port     string `koanf:"port"`
	GRPCPort int    `koanf:"grpc_port"`

	Gateway   GatewayConfig   `koanf:"gateway"`
	Admission AdmissionConfig `koanf:"admission"`
	Redis     RedisConfig     `koanf:"redis"`
	OTEL      OTELConfig      `koanf:"otel"`

	httpPort int
}

// GatewayConfig holds the connection gateway settings.
type GatewayConfig struct {
	Path              string        `koanf:"path"`
	AllowedOrigins    []string      `koanf:"allowed_origins"` // "*" allows any origin; empty allows same-host and origin-less clients
	MaxMessageSize    int64         `koanf:"max_message_size"`
	SendBufferSize    int           `koanf:"send_buffer_size"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	PongWait          time.Duration `koanf:"pong_wait"`
	WriteWait         time.Duration `koanf:"write_wait"`
	CloseGracePeriod  time.Duration `koanf:"close_grace_period"`
	MessageRate       float64       `koanf:"message_rate"` // frames per second; 0 disables inbound limiting
	MessageBurst      int           `koanf:"message_burst"`
}

// AdmissionConfig holds the pre-upgrade, per-IP connection limit.
// The limiter is only active when Redis.Addr is set.
type AdmissionConfig struct {
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Empty disables Redis-backed admission
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint string `koanf:"endpoint"` // Empty disables OTLP export
}

// sections lists the nested config prefixes. An env var whose lowercased
// name starts with "<section>_" is split once at that boundary, so
// GATEWAY_MAX_MESSAGE_SIZE maps to gateway.max_message_size while top-level
// keys like LOG_LEVEL stay flat.
var sections = []string{"gateway", "admission", "redis", "otel"}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",
		GRPCPort:    0,

		Gateway: GatewayConfig{
			Path:              domain.DefaultUpgradePath,
			MaxMessageSize:    domain.MaxMessageSize,
			SendBufferSize:    domain.OutboundBufferSize,
			HeartbeatInterval: domain.HeartbeatInterval,
			PongWait:          domain.PongWait,
			WriteWait:         domain.WriteWait,
			CloseGracePeriod:  domain.CloseGracePeriod,
			MessageRate:       domain.MessageRatePerSecond,
			MessageBurst:      domain.MessageBurst,
		},
		Admission: AdmissionConfig{
			Limit:  domain.AdmissionLimit,
			Window: domain.AdmissionWindow,
		},
		Redis: RedisConfig{
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
	}
}

// Load loads configuration from the environment over compiled defaults.
//
// PORT is required: a missing value fails with domain.ErrConfigRequired and a
// non-numeric or out-of-range value with domain.ErrConfigInvalid. Both abort
// startup before any listener is bound.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.ProviderWithValue("", ".", envValue), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %w", domain.ErrConfigInvalid, err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// listKeys are koanf paths whose environment value is a comma-separated list.
var listKeys = map[string]bool{
	"gateway.allowed_origins": true,
}

// envValue maps an environment variable to its koanf path, splitting list
// values on commas.
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// envKey maps an environment variable name to its koanf path.
func envKey(s string) string {
	key := strings.ToLower(s)
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

// validate checks required and well-formed configuration.
func validate(cfg *Config) error {
	port := strings.TrimSpace(cfg.Port)
	if port == "" {
		return fmt.Errorf("%w: port", domain.ErrConfigRequired)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("%w: port %q is not a TCP port number", domain.ErrConfigInvalid, cfg.Port)
	}
	cfg.httpPort = n

	if cfg.GRPCPort < 0 || cfg.GRPCPort > 65535 {
		return fmt.Errorf("%w: grpc_port %d", domain.ErrConfigInvalid, cfg.GRPCPort)
	}

	g := cfg.Gateway
	switch {
	case !strings.HasPrefix(g.Path, "/"):
		return fmt.Errorf("%w: gateway.path %q must start with /", domain.ErrConfigInvalid, g.Path)
	case g.MaxMessageSize <= 0:
		return fmt.Errorf("%w: gateway.max_message_size must be positive", domain.ErrConfigInvalid)
	case g.SendBufferSize <= 0:
		return fmt.Errorf("%w: gateway.send_buffer_size must be positive", domain.ErrConfigInvalid)
	case g.HeartbeatInterval <= 0 || g.PongWait <= g.HeartbeatInterval:
		return fmt.Errorf("%w: gateway.pong_wait must exceed gateway.heartbeat_interval", domain.ErrConfigInvalid)
	case g.WriteWait <= 0 || g.CloseGracePeriod <= 0:
		return fmt.Errorf("%w: gateway write_wait and close_grace_period must be positive", domain.ErrConfigInvalid)
	case g.MessageRate < 0 || (g.MessageRate > 0 && g.MessageBurst <= 0):
		return fmt.Errorf("%w: gateway.message_burst must be positive when message_rate is set", domain.ErrConfigInvalid)
	}

	if cfg.Redis.Addr != "" && (cfg.Admission.Limit <= 0 || cfg.Admission.Window < time.Second) {
		return fmt.Errorf("%w: admission limit/window", domain.ErrConfigInvalid)
	}

	if cfg.IsProd() && len(cfg.Gateway.AllowedOrigins) == 0 {
		return fmt.Errorf("%w: gateway.allowed_origins", domain.ErrConfigRequired)
	}

	return nil
}

// HTTPPort returns the validated listening port. Zero asks the OS for one.
func (c *Config) HTTPPort() int {
	return c.httpPort
}

// AdmissionEnabled reports whether the Redis-backed admission limiter is configured.
func (c *Config) AdmissionEnabled() bool {
	return c.Redis.Addr != ""
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
