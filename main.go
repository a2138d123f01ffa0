package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"polyscribe/config"
	"polyscribe/metrics"
	"polyscribe/relay"
	"polyscribe/server"
)

func main() {
	logger := log.NewWithOptions(os.Stdout, log.Options{
		ReportTimestamp: true,
		Prefix:          "polyscribe",
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "err", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	m := metrics.NewDefault()

	sessionManager, err := relay.NewManager(cfg, logger, m)
	if err != nil {
		logger.Fatal("failed to create session manager", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.New(cfg, sessionManager, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	}()

	for _, spec := range cfg.ModelSpecs() {
		logger.Info("configured backend", "platform", spec.ID, "family", spec.Family)
	}

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", "err", err)
	}

	logger.Info("server stopped")
}
