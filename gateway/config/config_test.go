package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress)
	}
	if !cfg.Auth.Enabled {
		t.Fatal("auth must default to enabled")
	}
	if cfg.Auth.ScopeClaim != "scope" {
		t.Fatalf("unexpected scope claim: %s", cfg.Auth.ScopeClaim)
	}
	if cfg.Node.Timeout != 10*time.Second {
		t.Fatalf("unexpected node timeout: %s", cfg.Node.Timeout)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	raw := `
listen: "127.0.0.1:9090"
node:
  endpoint: "https://node.internal:8545"
  authToken: "node-secret"
  timeout: 5s
rateLimits:
  - id: lending
    requestsPerMinute: 120
    burst: 20
auth:
  enabled: true
  hmacSecret: "hmac-secret"
  issuer: "lend-gateway"
observability:
  serviceName: "edge-gateway"
  logRequests: false
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9090" {
		t.Fatalf("listen override lost: %s", cfg.ListenAddress)
	}
	if cfg.Node.Endpoint != "https://node.internal:8545" || cfg.Node.AuthToken != "node-secret" {
		t.Fatalf("node override lost: %+v", cfg.Node)
	}
	if cfg.Node.Timeout != 5*time.Second {
		t.Fatalf("node timeout override lost: %s", cfg.Node.Timeout)
	}
	if len(cfg.RateLimits) != 1 || cfg.RateLimits[0].ID != "lending" {
		t.Fatalf("rate limits lost: %+v", cfg.RateLimits)
	}
	if got := cfg.RateLimits[0].EffectiveRate(); got != 2 {
		t.Fatalf("expected 2 req/s from requestsPerMinute, got %f", got)
	}
	if cfg.Auth.Issuer != "lend-gateway" {
		t.Fatalf("auth override lost: %+v", cfg.Auth)
	}
	if cfg.Observability.ServiceName != "edge-gateway" {
		t.Fatalf("observability override lost: %+v", cfg.Observability)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing listen",
			mutate:  func(cfg *Config) { cfg.ListenAddress = " " },
			wantSub: "listen",
		},
		{
			name:    "missing node endpoint",
			mutate:  func(cfg *Config) { cfg.Node.Endpoint = "" },
			wantSub: "node.endpoint",
		},
		{
			name: "anonymous without optional paths",
			mutate: func(cfg *Config) {
				cfg.Auth.AllowAnonymous = true
				cfg.Auth.OptionalPaths = nil
			},
			wantSub: "optionalPaths",
		},
		{
			name: "optional path without slash",
			mutate: func(cfg *Config) {
				cfg.Auth.AllowAnonymous = true
				cfg.Auth.OptionalPaths = []string{"markets"}
			},
			wantSub: "must start with",
		},
		{
			name: "duplicate rate limit id",
			mutate: func(cfg *Config) {
				cfg.RateLimits = []RateLimitConfig{
					{ID: "lending", RatePerSecond: 1},
					{ID: "lending", RatePerSecond: 2},
				}
			},
			wantSub: "duplicate",
		},
		{
			name:    "cert without key",
			mutate:  func(cfg *Config) { cfg.Security.TLSCertFile = "cert.pem" },
			wantSub: "set together",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error mentioning %q, got: %v", tc.wantSub, err)
			}
		})
	}
}

func TestEffectiveRatePrefersPerSecond(t *testing.T) {
	entry := RateLimitConfig{RatePerSecond: 3, RequestsPerMinute: 600}
	if got := entry.EffectiveRate(); got != 3 {
		t.Fatalf("expected explicit per-second rate, got %f", got)
	}
	entry = RateLimitConfig{}
	if got := entry.EffectiveRate(); got != 0 {
		t.Fatalf("expected zero rate when unset, got %f", got)
	}
}
