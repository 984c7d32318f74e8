// Package config provides configuration management for LockFS.
// It handles loading and validating configuration from YAML files and environment variables.
package config

import "time"

// AppConfig represents the complete application configuration
type AppConfig struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Locks      LocksConfig      `koanf:"locks"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds the introspection HTTP server configuration
type ServerConfig struct {
	ListenAddr   string        `koanf:"listen_addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// LocksConfig holds resource locker configuration
type LocksConfig struct {
	Backend         string        `koanf:"backend"` // "filesystem", "memory", "flock" or "redis"
	RootPath        string        `koanf:"root_path"`
	LockSubdir      string        `koanf:"lock_subdir"`
	RetryCount      int           `koanf:"retry_count"` // -1 retries without bound
	RetryDelay      time.Duration `koanf:"retry_delay"`
	RetryJitter     time.Duration `koanf:"retry_jitter"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"` // 0 disables the stale lock sweep
	RedisAddr       string        `koanf:"redis_addr"`
	RedisPassword   string        `koanf:"redis_password"`
	RedisTTL        time.Duration `koanf:"redis_ttl"`
}

// SupervisorConfig holds worker supervisor configuration
type SupervisorConfig struct {
	Workers           []WorkerConfig `koanf:"workers"`
	RestartsPerSecond float64        `koanf:"restarts_per_second"`
	RestartBurst      int            `koanf:"restart_burst"`
	StopTimeout       time.Duration  `koanf:"stop_timeout"`
}

// WorkerConfig describes one supervised worker subprocess
type WorkerConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}
