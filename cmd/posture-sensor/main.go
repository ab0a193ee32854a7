package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nasti-l/movement-tracker/internal/config"
	"github.com/nasti-l/movement-tracker/internal/core"
	"github.com/nasti-l/movement-tracker/internal/logging"
)

const defaultConfigPath = "config/posture.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file (skipped when missing)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	mock := flag.Bool("mock", false, "Use the synthetic source instead of the camera")
	watch := flag.Bool("watch", true, "Hot-reload the posture threshold when the config file changes")
	statsEvery := flag.Duration("stats", 10*time.Second, "Pipeline stats log interval (0 disables)")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Setup structured logger
	logOpts := cfg.LoggingOptions()
	if *debug {
		logOpts.Level = "debug"
	}
	_, closeLog, err := logging.Setup(logOpts)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	slog.Info("starting posture sensor",
		"config", *configPath,
		"instance_id", cfg.InstanceID,
		"debug", *debug,
		"mock", *mock,
	)

	sensor, err := core.New(cfg, core.Options{Mock: *mock, StatsInterval: *statsEvery})
	if err != nil {
		slog.Error("failed to create posture sensor", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if *watch {
		go func() {
			if err := sensor.WatchConfig(ctx, *configPath); err != nil {
				slog.Warn("config hot-reload disabled", "error", err)
			}
		}()
	}

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- sensor.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal or pipeline end
	exitCode := 0
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			slog.Error("service error", "error", err)
			exitCode = 1
		} else {
			slog.Info("service stopped (end of stream)")
		}
		cancel()
	}

	// Graceful shutdown
	shutdownTimeout := sensor.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := sensor.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		exitCode = 1
	}

	if exitCode != 0 {
		closeLog()
		os.Exit(exitCode)
	}
	slog.Info("posture sensor stopped successfully")
}
