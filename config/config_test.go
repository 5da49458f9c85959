package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
gateway:
  url: http://localhost:8080
service:
  name: orders
  token: secret-token
`

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Gateway.Timeout != 30*time.Second {
		t.Errorf("gateway.timeout default = %v, want 30s", cfg.Gateway.Timeout)
	}
	if cfg.Gateway.HealthInterval != 30*time.Second {
		t.Errorf("gateway.health_interval default = %v, want 30s", cfg.Gateway.HealthInterval)
	}
	if cfg.Gateway.StatusSyncInterval != 10*time.Second {
		t.Errorf("gateway.status_sync_interval default = %v, want 10s", cfg.Gateway.StatusSyncInterval)
	}
	if cfg.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("circuit_breaker.failure_threshold default = %d, want 3", cfg.CircuitBreaker.FailureThreshold)
	}
	if cfg.CircuitBreaker.RecoveryTimeout != 30*time.Second {
		t.Errorf("circuit_breaker.recovery_timeout default = %v, want 30s", cfg.CircuitBreaker.RecoveryTimeout)
	}
	if cfg.CircuitBreaker.SuccessThreshold != 2 {
		t.Errorf("circuit_breaker.success_threshold default = %d, want 2", cfg.CircuitBreaker.SuccessThreshold)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("retry.max_attempts default = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BackoffStrategy != "exponential" {
		t.Errorf("retry.backoff_strategy default = %q, want exponential", cfg.Retry.BackoffStrategy)
	}
	if cfg.Retry.InitialDelay != time.Second {
		t.Errorf("retry.initial_delay default = %v, want 1s", cfg.Retry.InitialDelay)
	}
	if cfg.Retry.MaxDelay != 10*time.Second {
		t.Errorf("retry.max_delay default = %v, want 10s", cfg.Retry.MaxDelay)
	}
	if !cfg.Cache.IsEnabled() {
		t.Error("cache should be enabled by default")
	}
	if cfg.Cache.TTL != time.Minute {
		t.Errorf("cache.ttl default = %v, want 1m", cfg.Cache.TTL)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("logging.output default = %q, want stdout", cfg.Logging.Output)
	}
}

func TestLoadFromBytes_CacheExplicitlyDisabled(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalYAML + `
cache:
  enabled: false
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.IsEnabled() {
		t.Error("cache.enabled: false should disable caching")
	}
}

func TestLoadFromBytes_EnvVarExpansion(t *testing.T) {
	t.Setenv("GWC_TEST_TOKEN", "from-env")

	cfg, err := LoadFromBytes([]byte(`
gateway:
  url: http://localhost:8080
service:
  name: orders
  token: ${GWC_TEST_TOKEN}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.Token != "from-env" {
		t.Errorf("token = %q, want from-env", cfg.Service.Token)
	}
}

func TestLoadFromBytes_UnsetEnvVarKeptAndWarned(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
gateway:
  url: http://localhost:8080
service:
  name: orders
  token: ${GWC_DEFINITELY_UNSET_VAR}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.Token != "${GWC_DEFINITELY_UNSET_VAR}" {
		t.Errorf("unset env var should be left verbatim, got %q", cfg.Service.Token)
	}
	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "unresolved environment variable") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unresolved-env warning, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_PerTargetOverrides(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalYAML + `
circuit_breakers:
  billing:
    failure_threshold: 10
service_timeouts:
  billing: 5s
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cb := cfg.BreakerFor("billing")
	if cb.FailureThreshold != 10 {
		t.Errorf("billing failure_threshold = %d, want 10", cb.FailureThreshold)
	}
	// Unset override fields inherit the global defaults.
	if cb.RecoveryTimeout != 30*time.Second || cb.SuccessThreshold != 2 {
		t.Errorf("billing override should inherit defaults, got %+v", cb)
	}

	if cfg.BreakerFor("users").FailureThreshold != 3 {
		t.Error("targets without overrides should get global breaker config")
	}

	if cfg.TimeoutFor("billing") != 5*time.Second {
		t.Errorf("TimeoutFor(billing) = %v, want 5s", cfg.TimeoutFor("billing"))
	}
	if cfg.TimeoutFor("users") != 30*time.Second {
		t.Errorf("TimeoutFor(users) = %v, want gateway default 30s", cfg.TimeoutFor("users"))
	}
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing gateway url",
			yaml: `
service:
  name: orders
  token: tok
`,
			want: "gateway.url is required",
		},
		{
			name: "bad gateway scheme",
			yaml: `
gateway:
  url: ftp://example.com
service:
  name: orders
  token: tok
`,
			want: "scheme must be http or https",
		},
		{
			name: "missing service name",
			yaml: `
gateway:
  url: http://localhost:8080
service:
  token: tok
`,
			want: "service.name is required",
		},
		{
			name: "missing service token",
			yaml: `
gateway:
  url: http://localhost:8080
service:
  name: orders
`,
			want: "service.token is required",
		},
		{
			name: "bad backoff strategy",
			yaml: minimalYAML + `
retry:
  backoff_strategy: fibonacci
`,
			want: "retry.backoff_strategy",
		},
		{
			name: "max delay below initial",
			yaml: minimalYAML + `
retry:
  initial_delay: 5s
  max_delay: 1s
`,
			want: "retry.max_delay",
		},
		{
			name: "admin without allowlist",
			yaml: minimalYAML + `
admin:
  enabled: true
`,
			want: "admin.ip_allowlist is required",
		},
		{
			name: "admin bad cidr",
			yaml: minimalYAML + `
admin:
  enabled: true
  ip_allowlist: ["10.0.0.1"]
`,
			want: "invalid CIDR",
		},
		{
			name: "bad log level",
			yaml: minimalYAML + `
logging:
  level: verbose
`,
			want: "logging.level",
		},
		{
			name: "zero service timeout",
			yaml: minimalYAML + `
service_timeouts:
  billing: 0s
`,
			want: "service_timeouts[billing]",
		},
		{
			name: "rate override without burst",
			yaml: minimalYAML + `
rate_overrides:
  billing:
    requests_per_second: 10
`,
			want: "rate_overrides[billing].burst_size",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromBytes_CacheWithoutRedisURLWarns(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "redis_url") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected redis_url warning, got %v", cfg.Warnings)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.Name != "orders" {
		t.Errorf("service.name = %q, want orders", cfg.Service.Name)
	}
}
