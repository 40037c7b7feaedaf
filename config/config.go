package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"lendcore/crypto"
)

// Config carries the lendd node settings persisted as TOML.
type Config struct {
	RPCAddress            string   `toml:"RPCAddress"`
	DataDir               string   `toml:"DataDir"`
	GenesisFile           string   `toml:"GenesisFile"`
	NodeKeystorePath      string   `toml:"NodeKeystorePath"`
	NetworkName           string   `toml:"NetworkName"`
	RPCAuthToken          string   `toml:"RPCAuthToken,omitempty"`
	RPCAllowInsecure      bool     `toml:"RPCAllowInsecure"`
	RPCTLSCertFile        string   `toml:"RPCTLSCertFile,omitempty"`
	RPCTLSKeyFile         string   `toml:"RPCTLSKeyFile,omitempty"`
	RPCTrustedProxies     []string `toml:"RPCTrustedProxies"`
	RPCMutationsPerMinute int      `toml:"RPCMutationsPerMinute"`
	// TelemetryAddress serves Prometheus metrics and the health probe. Empty
	// disables the listener.
	TelemetryAddress string `toml:"TelemetryAddress,omitempty"`
}

// Load reads the configuration at path, creating a default file (and a node
// keystore next to it) when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %s", path, undecoded[0].String())
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "lend-local"
	}
	if cfg.RPCTrustedProxies == nil {
		cfg.RPCTrustedProxies = []string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the node cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must be configured")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be configured")
	}
	cert := strings.TrimSpace(c.RPCTLSCertFile)
	key := strings.TrimSpace(c.RPCTLSKeyFile)
	if (cert == "") != (key == "") {
		return fmt.Errorf("RPCTLSCertFile and RPCTLSKeyFile must be set together")
	}
	if c.RPCMutationsPerMinute < 0 {
		return fmt.Errorf("RPCMutationsPerMinute must not be negative")
	}
	return nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.NodeKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		if _, genErr := crypto.GenerateToKeystore(keystorePath, ""); genErr != nil {
			return genErr
		}
	} else if err != nil {
		return err
	}

	if cfg.NodeKeystorePath != keystorePath {
		cfg.NodeKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	keystorePath := defaultKeystorePath(path)
	if _, err := crypto.GenerateToKeystore(keystorePath, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:        "127.0.0.1:8545",
		DataDir:           "./lend-data",
		GenesisFile:       "",
		NetworkName:       "lend-local",
		RPCAllowInsecure:  true,
		RPCTrustedProxies: []string{},
		TelemetryAddress:  "127.0.0.1:9464",
	}
	cfg.NodeKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "node.keystore")
}
