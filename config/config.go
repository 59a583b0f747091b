package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	NetworkName    string `toml:"NetworkName"`
	DataDir        string `toml:"DataDir"`
	StorageBackend string `toml:"StorageBackend"`
	GenesisFile    string `toml:"GenesisFile"`

	Logging  Logging  `toml:"Logging"`
	Gateway  Gateway  `toml:"Gateway"`
	Oracle   Oracle   `toml:"Oracle"`
	Protocol Protocol `toml:"Protocol"`
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "fx-local"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./fx-data"
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "leveldb"
	}
	if cfg.Logging.Environment == "" {
		cfg.Logging.Environment = "development"
	}
	if cfg.Gateway.ListenAddress == "" {
		cfg.Gateway.ListenAddress = ":8080"
	}
	if cfg.Gateway.RateLimitPerSecond <= 0 {
		cfg.Gateway.RateLimitPerSecond = 50
	}
	if cfg.Gateway.RateLimitBurst <= 0 {
		cfg.Gateway.RateLimitBurst = 100
	}
	if cfg.Oracle.Asset == "" {
		cfg.Oracle.Asset = "RSV"
	}
	if len(cfg.Oracle.FeedPriority) == 0 {
		cfg.Oracle.FeedPriority = []string{"manual"}
	}
	if cfg.Oracle.MaxQuoteAgeSeconds <= 0 {
		cfg.Oracle.MaxQuoteAgeSeconds = 900
	}
	if cfg.Oracle.UpdateIntervalSeconds <= 0 {
		cfg.Oracle.UpdateIntervalSeconds = 60
	}
	if cfg.Protocol.StateID == "" {
		cfg.Protocol.StateID = "proto-main"
	}
	if cfg.Protocol.PoolID == "" {
		cfg.Protocol.PoolID = "pool-main"
	}
	if cfg.Protocol.PausedModules == nil {
		cfg.Protocol.PausedModules = []string{}
	}
}

// JWTSecretValue resolves the gateway signing secret, preferring the inline
// value over the environment indirection.
func (c *Config) JWTSecretValue() string {
	if c.Gateway.JWTSecret != "" {
		return c.Gateway.JWTSecret
	}
	if c.Gateway.JWTSecretEnv != "" {
		return os.Getenv(c.Gateway.JWTSecretEnv)
	}
	return ""
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
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
