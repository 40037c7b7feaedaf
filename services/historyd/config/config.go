package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfig points the collector at a ledger node.
type NodeConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	AuthToken   string        `yaml:"authToken"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// DatabaseConfig selects the history store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SnapshotConfig controls periodic ledger-event exports.
type SnapshotConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Formats  []string      `yaml:"formats"`
}

// LogConfig configures the rotating file sink. An empty file keeps stdout.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// Config is the root historyd configuration.
type Config struct {
	Listen    string         `yaml:"listen"`
	Node      NodeConfig     `yaml:"node"`
	Database  DatabaseConfig `yaml:"database"`
	Snapshots SnapshotConfig `yaml:"snapshots"`
	Log       LogConfig      `yaml:"log"`
}

// Default returns the configuration used when no file overrides are given.
func Default() Config {
	return Config{
		Listen: ":9180",
		Node: NodeConfig{
			Endpoint:    "http://127.0.0.1:8545",
			DialTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "historyd.db",
		},
		Snapshots: SnapshotConfig{
			Dir:      "snapshots",
			Interval: time.Hour,
			Formats:  []string{"csv", "parquet"},
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 28,
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations historyd cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address must be configured")
	}
	endpoint := strings.TrimSpace(c.Node.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("node.endpoint must be configured")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("node.endpoint invalid: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("node.endpoint scheme %q not supported", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("node.endpoint must include a host")
	}
	if c.Node.DialTimeout < 0 {
		return fmt.Errorf("node.dialTimeout must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn must be configured")
	}
	if strings.TrimSpace(c.Snapshots.Dir) != "" {
		if c.Snapshots.Interval <= 0 {
			return fmt.Errorf("snapshots.interval must be positive")
		}
		for _, format := range c.Snapshots.Formats {
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "csv", "parquet":
			default:
				return fmt.Errorf("snapshots.formats entry %q not supported", format)
			}
		}
	}
	return nil
}
