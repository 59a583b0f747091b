package config

import "fmt"

var validBackends = map[string]bool{"memory": true, "leveldb": true}

func Validate(cfg *Config) error {
	if !validBackends[cfg.StorageBackend] {
		return fmt.Errorf("storage: unknown backend %q", cfg.StorageBackend)
	}
	if cfg.Gateway.RateLimitPerSecond <= 0 {
		return fmt.Errorf("gateway: RateLimitPerSecond <= 0")
	}
	if cfg.Gateway.RateLimitBurst <= 0 {
		return fmt.Errorf("gateway: RateLimitBurst <= 0")
	}
	if cfg.Oracle.UpdateIntervalSeconds <= 0 {
		return fmt.Errorf("oracle: UpdateIntervalSeconds <= 0")
	}
	if cfg.Oracle.MaxQuoteAgeSeconds < cfg.Oracle.UpdateIntervalSeconds {
		return fmt.Errorf("oracle: MaxQuoteAgeSeconds below the update interval")
	}
	if len(cfg.Oracle.FeedPriority) == 0 {
		return fmt.Errorf("oracle: FeedPriority empty")
	}
	if cfg.Protocol.StateID == "" || cfg.Protocol.PoolID == "" {
		return fmt.Errorf("protocol: StateID and PoolID are required")
	}
	return nil
}
