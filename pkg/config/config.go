// Package config provides configuration structures and loading logic for the
// VAST resolver service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-vast/pkg/domain"
	"github.com/polisai/polis-vast/pkg/filter"
	"github.com/polisai/polis-vast/pkg/policy"
	"github.com/polisai/polis-vast/pkg/telemetry"
)

// Config holds the global configuration.
type Config struct {
	Resolver  ResolverConfig  `yaml:"resolver"`
	Transport TransportConfig `yaml:"transport"`
	Filters   []filter.Spec   `yaml:"filters"`
	Policy    PolicyConfig    `yaml:"policy"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`

	// dir is the directory of the loaded file; relative paths resolve against it.
	dir string
}

// ResolverConfig holds the fetch options handed to the transport.
type ResolverConfig struct {
	TimeoutMS       int64  `yaml:"timeout_ms"`
	SendCredentials bool   `yaml:"send_credentials"`
	URLRedaction    string `yaml:"url_redaction"`
}

// Timeout converts TimeoutMS to a duration.
func (c ResolverConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// TransportConfig customises the default HTTP transport.
type TransportConfig struct {
	MaxBodyBytes   int64                 `yaml:"max_body_bytes"`
	UserAgent      string                `yaml:"user_agent"`
	TrustBundle    *TrustBundle          `yaml:"trust_bundle,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
	RateLimit      *RateLimitConfig      `yaml:"rate_limit,omitempty"`
}

// CircuitBreakerConfig enables per-host circuit breaking. Zero fields take defaults.
type CircuitBreakerConfig struct {
	MaxFailures      int   `yaml:"max_failures"`
	OpenTimeoutMS    int64 `yaml:"open_timeout_ms"`
	HalfOpenRequests int   `yaml:"half_open_requests"`
}

// RateLimitConfig enables a per-host token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// PolicyConfig lists the Rego modules used for URL admission. An empty module
// list disables the policy guard.
type PolicyConfig struct {
	Modules    []string `yaml:"modules"`
	Entrypoint string   `yaml:"entrypoint"`
	Mode       string   `yaml:"mode"`
}

// Enabled reports whether any policy module is configured.
func (c PolicyConfig) Enabled() bool {
	return len(c.Modules) > 0
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	Headers      map[string]string `yaml:"headers"`
}

// Provider converts the section into telemetry bootstrap options.
func (c TelemetryConfig) Provider() telemetry.Config {
	return telemetry.Config{
		ServiceName: c.ServiceName,
		Endpoint:    c.OTLPEndpoint,
		Environment: c.Environment,
		Insecure:    c.Insecure,
		Headers:     c.Headers,
	}
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Resolver: ResolverConfig{
			TimeoutMS:    domain.DefaultTimeout.Milliseconds(),
			URLRedaction: telemetry.RedactQuery,
		},
		Server: ServerConfig{
			ListenAddr: ":8085",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.dir = filepath.Dir(path)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("VAST_TIMEOUT_MS"); val != "" {
		ms, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: VAST_TIMEOUT_MS %q is not an integer", domain.ErrConfigInvalid, val)
		}
		cfg.Resolver.TimeoutMS = ms
	}
	if val := os.Getenv("VAST_SEND_CREDENTIALS"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: VAST_SEND_CREDENTIALS %q is not a boolean", domain.ErrConfigInvalid, val)
		}
		cfg.Resolver.SendCredentials = enabled
	}
	if val := os.Getenv("VAST_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("VAST_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddr = val
	}
	if val := os.Getenv("VAST_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("VAST_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	return nil
}

// Validate checks the whole configuration and normalises defaults in place.
func (c *Config) Validate() error {
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver configuration: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport configuration: %w", err)
	}
	for i, spec := range c.Filters {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("filter %d: %w", i, err)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy configuration: %w", err)
	}
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		c.Server.ListenAddr = ":8085"
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate performs validation of resolver configuration.
func (c *ResolverConfig) Validate() error {
	if c.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout_ms must not be negative", domain.ErrConfigInvalid)
	}
	if c.TimeoutMS == 0 {
		c.TimeoutMS = domain.DefaultTimeout.Milliseconds()
	}
	switch c.URLRedaction {
	case "":
		c.URLRedaction = telemetry.RedactQuery
	case telemetry.RedactNone, telemetry.RedactQuery, telemetry.RedactMask, telemetry.RedactHash:
	default:
		return fmt.Errorf("%w: unknown url_redaction %q", domain.ErrConfigInvalid, c.URLRedaction)
	}
	return nil
}

// Validate performs validation of transport configuration.
func (c *TransportConfig) Validate() error {
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("%w: max_body_bytes must not be negative", domain.ErrConfigInvalid)
	}
	if cb := c.CircuitBreaker; cb != nil && (cb.MaxFailures < 0 || cb.OpenTimeoutMS < 0 || cb.HalfOpenRequests < 0) {
		return fmt.Errorf("%w: circuit_breaker values must not be negative", domain.ErrConfigInvalid)
	}
	if rl := c.RateLimit; rl != nil && (rl.RequestsPerSecond <= 0 || rl.Burst < 0) {
		return fmt.Errorf("%w: rate_limit requires a positive requests_per_second", domain.ErrConfigInvalid)
	}
	if c.TrustBundle != nil && strings.TrimSpace(c.TrustBundle.Path) == "" && strings.TrimSpace(c.TrustBundle.Inline) == "" {
		return fmt.Errorf("%w: trust_bundle requires path or inline", domain.ErrConfigInvalid)
	}
	return nil
}

// Validate performs validation of policy configuration.
func (c *PolicyConfig) Validate() error {
	mode, err := policy.ParseMode(c.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	c.Mode = string(mode)
	for i, module := range c.Modules {
		if strings.TrimSpace(module) == "" {
			return fmt.Errorf("%w: module %d has an empty path", domain.ErrConfigInvalid, i)
		}
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("%w: invalid log level %q, supported levels: debug, info, warn, error", domain.ErrConfigInvalid, c.Level)
	}

	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", "json":
		c.Format = "json"
	case "text":
		c.Format = "text"
	default:
		return fmt.Errorf("%w: invalid log format %q", domain.ErrConfigInvalid, c.Format)
	}
	return nil
}

// Dir reports the directory relative paths resolve against.
func (c *Config) Dir() string {
	return c.dir
}

// ResolvePath makes a relative path relative to the loaded config file.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}

// LoadPolicyModules reads the configured Rego modules keyed by base file name.
func (c *Config) LoadPolicyModules() (map[string]string, error) {
	modules := make(map[string]string, len(c.Policy.Modules))
	for _, path := range c.Policy.Modules {
		resolved := c.ResolvePath(path)
		//nolint:gosec // Policy paths are controlled by the operator
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("read policy module %s: %w", resolved, err)
		}
		name := filepath.Base(resolved)
		if _, dup := modules[name]; dup {
			return nil, fmt.Errorf("%w: duplicate policy module name %s", domain.ErrConfigInvalid, name)
		}
		modules[name] = string(data)
	}
	return modules, nil
}
