package config

import "time"

const (
	// DefaultPort is the gateway listen port.
	DefaultPort = 8700
	// DefaultAggregatorPort is the MCP aggregation endpoint port.
	DefaultAggregatorPort = 8701
	// DefaultHost binds local-only; the orchestrator is a single-host
	// coordinator and is not meant to be exposed directly.
	DefaultHost = "localhost"

	// DefaultRateLimitWindow and DefaultRateLimitMax are the shared quota
	// applied to identities without an explicit policy.
	DefaultRateLimitWindow = 60 * time.Second
	DefaultRateLimitMax    = 120

	// DefaultRestartDelay is the flat delay between automatic restart
	// attempts.
	DefaultRestartDelay = 2 * time.Second
)

// DefaultPublicPaths are always exempt from authentication, in addition to
// any paths listed in configuration.
var DefaultPublicPaths = []string{"/healthz"}

// GetDefaultConfig returns the built-in configuration. Loaded files are
// merged on top of it.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			PublicPaths: nil, // DefaultPublicPaths are always added
			RateLimit: RateLimitConfig{
				Window: DefaultRateLimitWindow,
				Max:    DefaultRateLimitMax,
			},
		},
		Aggregator: AggregatorConfig{
			Enabled: false,
			Host:    DefaultHost,
			Port:    DefaultAggregatorPort,
		},
	}
}

// ApplyDefaults fills zero values of a merged configuration with defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Auth.RateLimit.Window <= 0 {
		c.Auth.RateLimit.Window = DefaultRateLimitWindow
	}
	if c.Auth.RateLimit.Max <= 0 {
		c.Auth.RateLimit.Max = DefaultRateLimitMax
	}
	if c.Aggregator.Host == "" {
		c.Aggregator.Host = DefaultHost
	}
	if c.Aggregator.Port == 0 {
		c.Aggregator.Port = DefaultAggregatorPort
	}
	for i := range c.Services {
		if c.Services[i].Restart.Delay <= 0 {
			c.Services[i].Restart.Delay = DefaultRestartDelay
		}
	}
}
