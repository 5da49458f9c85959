// Package config provides YAML configuration loading with validation and
// environment variable substitution for the gateway client.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration.
type Config struct {
	Gateway   GatewayConfig `yaml:"gateway" json:"gateway"`
	Service   ServiceConfig `yaml:"service" json:"service"`
	Retry     RetryConfig   `yaml:"retry" json:"retry"`
	Cache     CacheConfig   `yaml:"cache" json:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Admin     AdminConfig   `yaml:"admin" json:"admin"`
	Logging   LoggingConfig `yaml:"logging" json:"logging"`

	// CircuitBreaker holds the default breaker thresholds applied to every
	// target service without an explicit override.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`

	// CircuitBreakers holds per-target-service breaker overrides.
	CircuitBreakers map[string]CircuitBreakerConfig `yaml:"circuit_breakers" json:"circuit_breakers,omitempty"`

	// ServiceTimeouts holds per-target-service request timeout overrides.
	ServiceTimeouts map[string]time.Duration `yaml:"service_timeouts" json:"service_timeouts,omitempty"`

	// RateOverrides holds per-target-service outbound rate limit overrides.
	RateOverrides map[string]RateLimitConfig `yaml:"rate_overrides" json:"rate_overrides,omitempty"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// GatewayConfig holds the connection settings for the API gateway every
// outbound call is routed through.
type GatewayConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// HealthInterval is how often the gateway's /health endpoint is probed.
	HealthInterval time.Duration `yaml:"health_interval" json:"health_interval"`

	// StatusSyncInterval is how often local circuit breakers reconcile with
	// the gateway's breaker-status endpoint.
	StatusSyncInterval time.Duration `yaml:"status_sync_interval" json:"status_sync_interval"`
}

// ServiceConfig identifies the calling service to the gateway.
type ServiceConfig struct {
	Name  string `yaml:"name" json:"name"`
	Token string `yaml:"token" json:"token"`
}

// CircuitBreakerConfig holds circuit breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
}

// RetryConfig holds the global retry policy.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffStrategy string        `yaml:"backoff_strategy" json:"backoff_strategy"` // "exponential", "linear", or "constant"
	InitialDelay    time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay" json:"max_delay"`
}

// CacheConfig holds the response cache settings.
// Enabled defaults to true; caching still requires a redis_url.
type CacheConfig struct {
	Enabled  *bool         `yaml:"enabled" json:"enabled"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	RedisURL string        `yaml:"redis_url" json:"redis_url"`
}

// IsEnabled returns whether caching is enabled (defaults to true).
func (c CacheConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// RateLimitConfig holds outbound token bucket settings. A zero
// RequestsPerSecond disables rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// AdminConfig holds the ops endpoint settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// ValidLogLevels are the accepted log level strings.
var ValidLogLevels = map[string]bool{
	"":      true, // empty means default ("info")
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// TimeoutFor returns the request timeout for a target service: the
// per-target override when present, else the gateway default.
func (c *Config) TimeoutFor(target string) time.Duration {
	if t, ok := c.ServiceTimeouts[target]; ok && t > 0 {
		return t
	}
	return c.Gateway.Timeout
}

// BreakerFor returns the breaker thresholds for a target service: the
// per-target override when present, else the global defaults.
func (c *Config) BreakerFor(target string) CircuitBreakerConfig {
	if cb, ok := c.CircuitBreakers[target]; ok {
		if cb.FailureThreshold == 0 {
			cb.FailureThreshold = c.CircuitBreaker.FailureThreshold
		}
		if cb.RecoveryTimeout == 0 {
			cb.RecoveryTimeout = c.CircuitBreaker.RecoveryTimeout
		}
		if cb.SuccessThreshold == 0 {
			cb.SuccessThreshold = c.CircuitBreaker.SuccessThreshold
		}
		return cb
	}
	return c.CircuitBreaker
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Gateway defaults
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 30 * time.Second
	}
	if cfg.Gateway.HealthInterval == 0 {
		cfg.Gateway.HealthInterval = 30 * time.Second
	}
	if cfg.Gateway.StatusSyncInterval == 0 {
		cfg.Gateway.StatusSyncInterval = 10 * time.Second
	}

	// Circuit breaker defaults
	cb := &cfg.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 3
	}
	if cb.RecoveryTimeout == 0 {
		cb.RecoveryTimeout = 30 * time.Second
	}
	if cb.SuccessThreshold == 0 {
		cb.SuccessThreshold = 2
	}

	// Retry defaults
	r := &cfg.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.BackoffStrategy == "" {
		r.BackoffStrategy = "exponential"
	}
	if r.InitialDelay == 0 {
		r.InitialDelay = time.Second
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 10 * time.Second
	}

	// Cache defaults
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Minute
	}

	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.BurstSize == 0 {
		cfg.RateLimit.BurstSize = 1
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
}

func validate(cfg *Config) error {
	if cfg.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(cfg.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url: invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("gateway.url: host is required")
	}
	if cfg.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}

	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Service.Token == "" {
		return fmt.Errorf("service.token is required")
	}

	if err := validateBreaker("circuit_breaker", cfg.CircuitBreaker); err != nil {
		return err
	}
	for target, cb := range cfg.CircuitBreakers {
		// Per-target overrides may leave fields zero; they inherit defaults.
		if cb.FailureThreshold < 0 || cb.SuccessThreshold < 0 || cb.RecoveryTimeout < 0 {
			return fmt.Errorf("circuit_breakers[%s]: thresholds must be non-negative", target)
		}
	}

	r := cfg.Retry
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	switch r.BackoffStrategy {
	case "exponential", "linear", "constant":
	default:
		return fmt.Errorf("retry.backoff_strategy must be one of exponential, linear, constant; got %q", r.BackoffStrategy)
	}
	if r.InitialDelay <= 0 {
		return fmt.Errorf("retry.initial_delay must be positive")
	}
	if r.MaxDelay < r.InitialDelay {
		return fmt.Errorf("retry.max_delay must be at least initial_delay")
	}

	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be non-negative")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.BurstSize < 1 {
		return fmt.Errorf("rate_limit.burst_size must be positive when rate limiting is enabled")
	}
	for target, rl := range cfg.RateOverrides {
		if rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_overrides[%s].requests_per_second must be positive", target)
		}
		if rl.BurstSize < 1 {
			return fmt.Errorf("rate_overrides[%s].burst_size must be positive", target)
		}
	}

	for target, t := range cfg.ServiceTimeouts {
		if t <= 0 {
			return fmt.Errorf("service_timeouts[%s] must be positive", target)
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	// Logging validation
	if !ValidLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	return nil
}

func validateBreaker(key string, cb CircuitBreakerConfig) error {
	if cb.FailureThreshold < 1 {
		return fmt.Errorf("%s.failure_threshold must be at least 1", key)
	}
	if cb.RecoveryTimeout <= 0 {
		return fmt.Errorf("%s.recovery_timeout must be positive", key)
	}
	if cb.SuccessThreshold < 1 {
		return fmt.Errorf("%s.success_threshold must be at least 1", key)
	}
	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if strings.Contains(cfg.Service.Token, "${") {
		warnings = append(warnings, "service.token contains unresolved environment variable")
	}
	if cfg.Cache.IsEnabled() && cfg.Cache.RedisURL == "" {
		warnings = append(warnings, "cache is enabled but cache.redis_url is not set; caching will be disabled")
	}
	return warnings
}
