package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/knotgate/pkg/gateway"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	gw, err := gateway.New(
		gateway.WithFileConfig(*configPath),
		gateway.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	os.Exit(run(gw, logger))
}

func run(gw *gateway.Gateway, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Workers outlive the signal so buffered requests drain during Shutdown.
	if err := gw.Start(context.Background()); err != nil {
		logger.Error("failed to start gateway", slog.String("error", err.Error()))
		return 1
	}

	failed := make(chan error, 1)
	go func() { failed <- gw.Wait() }()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping gateway...")
	case err := <-failed:
		if err != nil {
			logger.Error("gateway stopped", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gw.Config().Server.ShutdownTimeout)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		exitCode = 1
	}
	return exitCode
}
