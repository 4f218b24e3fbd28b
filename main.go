package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"notifier_server/config"
	"notifier_server/internal/bootstrap"
	"notifier_server/pkg/logger"
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "notifier",
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	server, err := bootstrap.NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize server: %v", err)
	}

	// Graceful shutdown with timeout
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down (timeout: %v)...", cfg.ShutdownTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("Notifier shut down gracefully")
		}
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("Server stopped: %v", err)
	}
	<-done
}
