package config

// Logging controls the structured log output of the daemon.
type Logging struct {
	Environment string `toml:"Environment"`
	File        string `toml:"File"`
	MaxSizeMB   int    `toml:"MaxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups"`
}

// Gateway configures the HTTP surface.
type Gateway struct {
	ListenAddress      string  `toml:"ListenAddress"`
	JWTSecret          string  `toml:"JWTSecret"`
	JWTSecretEnv       string  `toml:"JWTSecretEnv"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

// Oracle configures the price keeper: which feed sources to consult, in
// priority order, and how often to push an observation into the engine.
type Oracle struct {
	Asset                 string   `toml:"Asset"`
	FeedPriority          []string `toml:"FeedPriority"`
	MaxQuoteAgeSeconds    int64    `toml:"MaxQuoteAgeSeconds"`
	UpdateIntervalSeconds int64    `toml:"UpdateIntervalSeconds"`
}

// Protocol names the durable aggregates and the modules frozen at startup.
type Protocol struct {
	StateID       string   `toml:"StateID"`
	PoolID        string   `toml:"PoolID"`
	PausedModules []string `toml:"PausedModules"`
}
