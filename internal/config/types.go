package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration structure for svchub.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Logging    LoggingConfig        `yaml:"logging"`
	CORS       CORSConfig           `yaml:"cors"`
	Auth       AuthConfig           `yaml:"auth"`
	Aggregator AggregatorConfig     `yaml:"aggregator"`
	Services   []ServiceDefinition  `yaml:"services"`
	Identities []IdentityDefinition `yaml:"identities"`
}

// ServerConfig configures the HTTP front door.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"` // Host to bind to (default: localhost)
	Port int    `yaml:"port,omitempty"` // Port for the gateway (default: 8700)
}

// LoggingConfig configures the process-wide logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Pretty bool   `yaml:"pretty,omitempty"` // console encoding instead of JSON
}

// CORSConfig configures cross-origin access to the gateway.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// AuthConfig configures the access control layer. Secrets are never stored
// in configuration files; identities reference environment variables.
type AuthConfig struct {
	// PublicPaths bypass authentication and rate limiting entirely.
	PublicPaths []string `yaml:"publicPaths,omitempty"`

	// LegacyTokenEnv names an environment variable holding a catch-all
	// token kept for backward compatibility. When set and not already
	// bound to a configured identity, a wildcard-scope identity is
	// registered for it.
	LegacyTokenEnv string `yaml:"legacyTokenEnv,omitempty"`

	// RateLimit is the default quota applied to identities without their
	// own policy.
	RateLimit RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// RateLimitConfig is a fixed-window quota.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window,omitempty"` // window length, e.g. 60s
	Max    int           `yaml:"max,omitempty"`    // requests allowed per window
}

// ServiceDefinition defines one managed service. Exactly one of Module or
// Command must be set: Module names an in-process provider, Command spawns
// an external process.
type ServiceDefinition struct {
	Name      string                 `yaml:"name"`
	Module    string                 `yaml:"module,omitempty"`    // in-process provider module name
	Config    map[string]interface{} `yaml:"config,omitempty"`    // provider-specific settings
	Command   []string               `yaml:"command,omitempty"`   // external command and its arguments
	Env       map[string]string      `yaml:"env,omitempty"`       // environment overrides for the process
	WorkDir   string                 `yaml:"workDir,omitempty"`   // working directory for the process
	AutoStart bool                   `yaml:"autoStart,omitempty"` // start during registry initialization
	Restart   RestartPolicy          `yaml:"restart,omitempty"`
}

// RestartPolicy bounds automatic recovery after unexpected termination.
// The delay is flat, not exponential: these are local dependent services,
// so a bounded number of cheap retries is sufficient.
type RestartPolicy struct {
	OnFailure   bool          `yaml:"onFailure,omitempty"`
	MaxAttempts int           `yaml:"maxAttempts,omitempty"`
	Delay       time.Duration `yaml:"delay,omitempty"`
}

// IsProcess reports whether the definition describes an external process.
func (d ServiceDefinition) IsProcess() bool {
	return len(d.Command) > 0
}

// Validate checks a single service definition for structural errors.
func (d ServiceDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("service definition missing name")
	}
	if d.Module == "" && len(d.Command) == 0 {
		return fmt.Errorf("service %q: either module or command must be set", d.Name)
	}
	if d.Module != "" && len(d.Command) > 0 {
		return fmt.Errorf("service %q: module and command are mutually exclusive", d.Name)
	}
	if d.Restart.MaxAttempts < 0 {
		return fmt.Errorf("service %q: restart maxAttempts must not be negative", d.Name)
	}
	return nil
}

// IdentityDefinition defines one client identity. The bearer secret is
// resolved from TokenEnv at startup; identities whose variable is unset are
// silently skipped.
type IdentityDefinition struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name,omitempty"`
	TokenEnv string   `yaml:"tokenEnv"`
	Services []string `yaml:"services,omitempty"` // allowed service names, or ["*"]

	// RateLimit overrides the default quota for this identity.
	RateLimit *RateLimitConfig `yaml:"rateLimit,omitempty"`
}

// AggregatorConfig configures the MCP aggregation endpoint exposing
// capabilities of running services as tools.
type AggregatorConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"` // default: localhost
	Port    int    `yaml:"port,omitempty"` // default: 8701
}

// Validate checks the whole configuration for structural errors.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Services))
	for _, def := range c.Services {
		if err := def.Validate(); err != nil {
			return err
		}
		if seen[def.Name] {
			return fmt.Errorf("duplicate service name %q", def.Name)
		}
		seen[def.Name] = true
	}

	ids := make(map[string]bool, len(c.Identities))
	for _, id := range c.Identities {
		if id.ID == "" {
			return fmt.Errorf("identity definition missing id")
		}
		if id.TokenEnv == "" {
			return fmt.Errorf("identity %q: tokenEnv must be set", id.ID)
		}
		if ids[id.ID] {
			return fmt.Errorf("duplicate identity id %q", id.ID)
		}
		ids[id.ID] = true
	}
	return nil
}
