package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// LoadConfig loads configuration from multiple sources with strict priority:
// 1. Environment variables (highest priority)
// 2. Config file (config.yaml)
// 3. Defaults (lowest priority)
func LoadConfig() (AppConfig, error) {
	return LoadConfigFromFile("")
}

// LoadConfigFromFile loads configuration from multiple sources with a specific config file:
// 1. Environment variables (highest priority)
// 2. Specified config file or default config files
// 3. Defaults (lowest priority)
func LoadConfigFromFile(configFilePath string) (AppConfig, error) {
	k := koanf.New(".")

	// Load default configuration first
	defaultCfg := DefaultAppConfig()
	if err := k.Load(structs.Provider(defaultCfg, "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load default config: %w", err)
	}

	// Load from config file
	if configFilePath != "" {
		// Use specified config file
		if _, err := os.Stat(configFilePath); err != nil {
			return AppConfig{}, fmt.Errorf("specified config file %s not found: %w", configFilePath, err)
		}

		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return AppConfig{}, fmt.Errorf("failed to load config file %s: %w", configFilePath, err)
		}
	} else {
		// Load from default config files if they exist
		for _, configFile := range []string{"config.yaml", "config.yml"} {
			if _, err := os.Stat(configFile); err == nil {
				if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
					return AppConfig{}, fmt.Errorf("failed to load config file %s: %w", configFile, err)
				}
				break
			}
		}
	}

	// Load environment variables with LOCKFS_ prefix
	if err := k.Load(env.Provider("LOCKFS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "LOCKFS_")), "_", ".", -1)
	}), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into config struct
	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validateConfig(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validateConfig validates that required configuration fields are set
func validateConfig(cfg *AppConfig) error {
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	switch cfg.Locks.Backend {
	case "filesystem", "memory", "flock", "redis":
	default:
		return fmt.Errorf("locks.backend must be one of filesystem, memory, flock, redis; got %q", cfg.Locks.Backend)
	}

	if cfg.Locks.RetryCount < -1 {
		return fmt.Errorf("locks.retry_count must be >= -1")
	}
	if cfg.Locks.RetryDelay < 0 {
		return fmt.Errorf("locks.retry_delay must be >= 0")
	}
	if cfg.Locks.RetryJitter < 0 {
		return fmt.Errorf("locks.retry_jitter must be >= 0")
	}

	if cfg.Locks.Backend == "redis" && cfg.Locks.RedisAddr == "" {
		return fmt.Errorf("locks.redis_addr is required for the redis backend")
	}

	for i, worker := range cfg.Supervisor.Workers {
		if worker.Name == "" {
			return fmt.Errorf("supervisor.workers[%d].name is required", i)
		}
		if worker.Command == "" {
			return fmt.Errorf("supervisor.workers[%d].command is required", i)
		}
	}
	if cfg.Supervisor.RestartsPerSecond <= 0 {
		return fmt.Errorf("supervisor.restarts_per_second must be > 0")
	}
	if cfg.Supervisor.RestartBurst < 1 {
		return fmt.Errorf("supervisor.restart_burst must be >= 1")
	}
	if cfg.Supervisor.StopTimeout <= 0 {
		return fmt.Errorf("supervisor.stop_timeout must be > 0")
	}

	return nil
}
