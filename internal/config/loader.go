package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/svchub"
	projectConfigDir = ".svchub"
	configFileName   = "config.yaml"
)

// Load loads the configuration by layering default, user, and project
// settings. An explicit path, when non-empty, replaces the user/project
// discovery entirely.
func Load(explicitPath string) (Config, error) {
	cfg := GetDefaultConfig()

	if explicitPath != "" {
		fileCfg, err := loadConfigFromFile(explicitPath)
		if err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", explicitPath, err)
		}
		cfg = mergeConfigs(cfg, fileCfg)
		cfg.ApplyDefaults()
		return cfg, cfg.Validate()
	}

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional; discovery failure is not fatal.
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else if _, err := os.Stat(userConfigPath); !os.IsNotExist(err) {
		userCfg, err := loadConfigFromFile(userConfigPath)
		if err != nil {
			return Config{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
		cfg = mergeConfigs(cfg, userCfg)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else if _, err := os.Stat(projectConfigPath); !os.IsNotExist(err) {
		projectCfg, err := loadConfigFromFile(projectConfigPath)
		if err != nil {
			return Config{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
		cfg = mergeConfigs(cfg, projectCfg)
	}

	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a Config from a YAML file.
func loadConfigFromFile(filePath string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing %s: %w", filePath, err)
	}
	return cfg, nil
}

// mergeConfigs overlays override on top of base. Scalars win when set;
// service and identity lists are merged by name so later layers can adjust
// individual entries without repeating the whole list.
func mergeConfigs(base, override Config) Config {
	merged := base

	if override.Server.Host != "" {
		merged.Server.Host = override.Server.Host
	}
	if override.Server.Port != 0 {
		merged.Server.Port = override.Server.Port
	}
	if override.Logging.Level != "" {
		merged.Logging.Level = override.Logging.Level
	}
	if override.Logging.Pretty {
		merged.Logging.Pretty = true
	}
	if len(override.CORS.AllowedOrigins) > 0 {
		merged.CORS.AllowedOrigins = override.CORS.AllowedOrigins
	}
	if len(override.Auth.PublicPaths) > 0 {
		merged.Auth.PublicPaths = override.Auth.PublicPaths
	}
	if override.Auth.LegacyTokenEnv != "" {
		merged.Auth.LegacyTokenEnv = override.Auth.LegacyTokenEnv
	}
	if override.Auth.RateLimit.Window > 0 {
		merged.Auth.RateLimit.Window = override.Auth.RateLimit.Window
	}
	if override.Auth.RateLimit.Max > 0 {
		merged.Auth.RateLimit.Max = override.Auth.RateLimit.Max
	}
	if override.Aggregator.Enabled {
		merged.Aggregator.Enabled = true
	}
	if override.Aggregator.Host != "" {
		merged.Aggregator.Host = override.Aggregator.Host
	}
	if override.Aggregator.Port != 0 {
		merged.Aggregator.Port = override.Aggregator.Port
	}

	merged.Services = mergeServiceLists(base.Services, override.Services)
	merged.Identities = mergeIdentityLists(base.Identities, override.Identities)

	return merged
}

func mergeServiceLists(base, override []ServiceDefinition) []ServiceDefinition {
	if len(override) == 0 {
		return base
	}
	byName := make(map[string]int, len(base))
	merged := make([]ServiceDefinition, len(base))
	copy(merged, base)
	for i, def := range merged {
		byName[def.Name] = i
	}
	for _, def := range override {
		if i, ok := byName[def.Name]; ok {
			merged[i] = def
		} else {
			byName[def.Name] = len(merged)
			merged = append(merged, def)
		}
	}
	return merged
}

func mergeIdentityLists(base, override []IdentityDefinition) []IdentityDefinition {
	if len(override) == 0 {
		return base
	}
	byID := make(map[string]int, len(base))
	merged := make([]IdentityDefinition, len(base))
	copy(merged, base)
	for i, id := range merged {
		byID[id.ID] = i
	}
	for _, id := range override {
		if i, ok := byID[id.ID]; ok {
			merged[i] = id
		} else {
			byID[id.ID] = len(merged)
			merged = append(merged, id)
		}
	}
	return merged
}
