package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ebogdum/lockfs/config"
	"github.com/ebogdum/lockfs/locks"
	"github.com/ebogdum/lockfs/retry"
	"github.com/ebogdum/lockfs/server"
	"github.com/ebogdum/lockfs/supervisor"
)

var rootCmd = &cobra.Command{
	Use:   "lockfs",
	Short: "LockFS - advisory resource locking over a shared filesystem",
	Long: `LockFS provides advisory mutual exclusion on named resources for
multiple processes sharing a filesystem, with jittered retry backoff,
a supervised worker pool and an introspection HTTP endpoint.`,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the LockFS server",
	Long:  "Start the configured lock backend, the worker supervisor and the introspection endpoint",
	RunE:  runServer,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the LockFS configuration and display the loaded settings",
	RunE:  validateConfig,
}

var configFilePath string

func main() {
	// Add flags to server command
	serverCmd.Flags().StringVarP(&configFilePath, "config", "c", "", "Path to configuration file")

	// Add subcommands
	configCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serverCmd, configCmd)

	// If no command specified, default to server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "server")
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// runServer starts the LockFS server
func runServer(cmd *cobra.Command, args []string) error {
	// Create context for the entire server lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadConfigFromFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := initializeLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			// Log to stderr since logger may not be working
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
		}
	}()

	logger.Info("Starting LockFS server",
		zap.String("backend", cfg.Locks.Backend),
		zap.String("listen_addr", cfg.Server.ListenAddr))

	// Initialize the lock backend
	logger.Info("Initializing lock backend")
	locker, lockDir, err := buildLocker(cfg.Locks, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize lock backend: %w", err)
	}

	// Start the stale lock sweep for the filesystem backend. Flock files
	// carry no holder PID and never go stale; the kernel releases them.
	if cfg.Locks.Backend == "filesystem" {
		locks.StartCleanupWorker(ctx, lockDir, cfg.Locks.CleanupInterval, logger)
	}

	// Initialize the worker supervisor
	logger.Info("Initializing supervisor", zap.Int("workers", len(cfg.Supervisor.Workers)))
	specs := make([]supervisor.WorkerSpec, 0, len(cfg.Supervisor.Workers))
	for _, w := range cfg.Supervisor.Workers {
		specs = append(specs, supervisor.WorkerSpec{Name: w.Name, Command: w.Command, Args: w.Args})
	}
	sup := supervisor.New(specs, cfg.Supervisor.RestartsPerSecond, cfg.Supervisor.RestartBurst, logger)
	if finalizer, ok := locker.(locks.Finalizer); ok {
		sup.OnShutdown(finalizer)
	}
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	// Initialize HTTP router
	logger.Info("Initializing HTTP router")
	router := server.NewRouter(lockDir, sup, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Supervisor.StopTimeout)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	// Stop the supervisor; this runs the registered finalizers exactly
	// once, sweeping residual lock files.
	if err := sup.Stop(); err != nil {
		logger.Error("Shutdown cleanup reported errors", zap.Error(err))
		return err
	}

	logger.Info("Server exited gracefully")
	return nil
}

// buildLocker constructs the configured lock backend. The returned lockDir
// is empty for backends without a lock directory.
func buildLocker(cfg config.LocksConfig, logger *zap.Logger) (locks.Locker, string, error) {
	settings := retry.Settings{
		Count:  cfg.RetryCount,
		Delay:  cfg.RetryDelay,
		Jitter: cfg.RetryJitter,
	}

	switch cfg.Backend {
	case "filesystem":
		locker, err := locks.NewFilesystemLocker(cfg.RootPath, cfg.LockSubdir, settings, logger)
		if err != nil {
			return nil, "", err
		}
		return locker, locker.LockDir(), nil
	case "memory":
		return locks.NewMemoryLocker(settings, logger), "", nil
	case "flock":
		locker, err := locks.NewFlockLocker(cfg.RootPath, cfg.LockSubdir, settings, logger)
		if err != nil {
			return nil, "", err
		}
		return locker, locker.LockDir(), nil
	case "redis":
		locker, err := locks.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisTTL, settings, logger)
		if err != nil {
			return nil, "", err
		}
		return locker, "", nil
	default:
		return nil, "", fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// validateConfig validates the LockFS configuration and displays settings
func validateConfig(cmd *cobra.Command, args []string) error {
	fmt.Println("Validating configuration...")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("❌ Configuration validation failed: %v\n", err)
		return err
	}

	fmt.Println("✅ Configuration is valid")
	fmt.Printf("Lock Backend: %s\n", cfg.Locks.Backend)
	fmt.Printf("Listen Address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("Lock Directory: %s\n", cfg.Locks.RootPath+"/"+cfg.Locks.LockSubdir)
	fmt.Printf("Retry Policy: count=%d delay=%s jitter=%s\n",
		cfg.Locks.RetryCount, cfg.Locks.RetryDelay, cfg.Locks.RetryJitter)
	if cfg.Locks.Backend == "redis" {
		fmt.Printf("Redis Address: %s\n", cfg.Locks.RedisAddr)
	}
	fmt.Printf("Supervised Workers: %d\n", len(cfg.Supervisor.Workers))

	return nil
}

// initializeLogger creates a zap logger based on configuration
func initializeLogger(logCfg config.LogConfig) (*zap.Logger, error) {
	var cfg zap.Config

	if logCfg.Format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	// Set log level
	switch logCfg.Level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
