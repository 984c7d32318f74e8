package config

import "time"

// DefaultAppConfig returns an AppConfig struct with sensible default values
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:   ":9090",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Locks: LocksConfig{
			Backend:         "filesystem",
			RootPath:        ".",
			LockSubdir:      ".internal/locks",
			RetryCount:      -1, // Retry without bound
			RetryDelay:      50 * time.Millisecond,
			RetryJitter:     30 * time.Millisecond,
			CleanupInterval: 0, // Stale sweep disabled unless configured
			RedisAddr:       "localhost:6379",
			RedisPassword:   "",
			RedisTTL:        30 * time.Second,
		},
		Supervisor: SupervisorConfig{
			Workers:           nil,
			RestartsPerSecond: 1,
			RestartBurst:      5,
			StopTimeout:       10 * time.Second,
		},
	}
}
