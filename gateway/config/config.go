package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig points the gateway at a lending RPC node.
type NodeConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RateLimitConfig shapes one named limiter bucket.
type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RatePerSecond     float64 `yaml:"ratePerSecond"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// AuthConfig controls JWT verification for the REST surface.
type AuthConfig struct {
	Enabled        bool          `yaml:"enabled"`
	HMACSecret     string        `yaml:"hmacSecret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	ScopeClaim     string        `yaml:"scopeClaim"`
	AllowAnonymous bool          `yaml:"allowAnonymous"`
	OptionalPaths  []string      `yaml:"optionalPaths"`
	ClockSkew      time.Duration `yaml:"clockSkew"`
}

// ObservabilityConfig toggles metrics, tracing and request logging.
type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	MetricsPrefix string `yaml:"metricsPrefix"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
}

// SecurityConfig governs the listener's transport requirements.
type SecurityConfig struct {
	AllowInsecure bool   `yaml:"allowInsecure"`
	TLSCertFile   string `yaml:"tlsCertFile"`
	TLSKeyFile    string `yaml:"tlsKeyFile"`
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	Node          NodeConfig          `yaml:"node"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Security      SecurityConfig      `yaml:"security"`
}

// Default returns the configuration used when no file is supplied. Auth is
// on without a secret, which fails closed until an operator provides one.
func Default() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Node: NodeConfig{
			Endpoint: "http://127.0.0.1:8545",
			Timeout:  10 * time.Second,
		},
		Auth: AuthConfig{
			Enabled:    true,
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
		},
		Observability: ObservabilityConfig{
			ServiceName:   "lend-gateway",
			MetricsPrefix: "gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path yields the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	if strings.TrimSpace(cfg.Node.Endpoint) == "" {
		return fmt.Errorf("node.endpoint required")
	}
	if cfg.Node.Timeout < 0 {
		return fmt.Errorf("node.timeout must not be negative")
	}
	if cfg.Auth.Enabled && cfg.Auth.AllowAnonymous && len(cfg.Auth.OptionalPaths) == 0 {
		return fmt.Errorf("auth.optionalPaths must list at least one entry when auth.allowAnonymous is true")
	}
	for i, path := range cfg.Auth.OptionalPaths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			return fmt.Errorf("auth.optionalPaths[%d] cannot be empty", i)
		}
		if !strings.HasPrefix(trimmed, "/") {
			return fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
		cfg.Auth.OptionalPaths[i] = trimmed
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, entry := range cfg.RateLimits {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return fmt.Errorf("rateLimits[%d].id required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rateLimits[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		if entry.RatePerSecond < 0 || entry.RequestsPerMinute < 0 {
			return fmt.Errorf("rateLimits[%d]: rates must not be negative", i)
		}
	}
	cert := strings.TrimSpace(cfg.Security.TLSCertFile)
	key := strings.TrimSpace(cfg.Security.TLSKeyFile)
	if (cert == "") != (key == "") {
		return fmt.Errorf("security: tlsCertFile and tlsKeyFile must be set together")
	}
	return nil
}

// EffectiveRate resolves the per-second rate, honouring requestsPerMinute
// when ratePerSecond is unset.
func (r RateLimitConfig) EffectiveRate() float64 {
	if r.RatePerSecond > 0 {
		return r.RatePerSecond
	}
	if r.RequestsPerMinute > 0 {
		return r.RequestsPerMinute / 60.0
	}
	return 0
}
