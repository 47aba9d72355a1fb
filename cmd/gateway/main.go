// Package main is the entry point for the xling gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xling-dev/xling/internal/balancer"
	"github.com/xling-dev/xling/internal/config"
	"github.com/xling-dev/xling/internal/security"
	"github.com/xling-dev/xling/internal/server"
	"github.com/xling-dev/xling/internal/store"
	"github.com/xling-dev/xling/internal/ui"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default: search ./config.yaml)")
	miniBanner := flag.Bool("mini", false, "print the compact banner")
	flag.Parse()

	// =========================================================================
	// 1. Load configuration
	// =========================================================================
	cfg, v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// =========================================================================
	// 2. Setup structured logger with credential scrubbing
	// =========================================================================
	logger := setupLogger(cfg.Logging.Level)

	logger.Info("starting xling gateway",
		slog.String("host", cfg.Proxy.Host),
		slog.Int("port", cfg.Proxy.Port),
		slog.String("strategy", cfg.Proxy.LoadBalance),
		slog.Int("providers", len(cfg.Providers)),
	)

	// =========================================================================
	// 3. Live config + file watcher for hot reloads
	// =========================================================================
	live := config.NewLive(cfg)
	config.NewWatcher(v, live, logger).Start()

	// =========================================================================
	// 4. Load balancer and record store
	// =========================================================================
	cooldown := time.Duration(cfg.Proxy.KeyRotation.EffectiveCooldownMs()) * time.Millisecond
	bal := balancer.New(balancer.WithCooldown(cooldown))

	st := store.New(
		store.WithMaxRecords(cfg.Proxy.Records.EffectiveMax()),
		store.WithCaptureBodies(cfg.Proxy.Records.CaptureBodies),
		store.WithMaxBodyBytes(cfg.Proxy.Records.EffectiveMaxBodyBytes()),
	)

	// =========================================================================
	// 5. Gateway server
	// =========================================================================
	gw := server.New(live, bal, st, server.WithLogger(logger))

	addr := fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: gw.Handler(),
		// No write timeout: SSE streams stay open until the client leaves.
		ReadHeaderTimeout: 10 * time.Second,
	}

	// =========================================================================
	// 6. Start with graceful shutdown on SIGTERM/SIGINT
	// =========================================================================
	go func() {
		if *miniBanner {
			ui.PrintMiniBanner()
		} else {
			ui.PrintBanner()
		}
		ui.PrintGatewayInfo("config: " + v.ConfigFileUsed())
		ui.PrintStartupInfo(cfg.Proxy.Host, cfg.Proxy.Port, len(cfg.Providers), cfg.Proxy.LoadBalance)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	ui.PrintShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
	ui.PrintGoodbye()
}

// setupLogger creates a JSON logger wrapped in the redacting handler and
// installs it as the process default.
func setupLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(security.NewRedactingHandler(handler))
	slog.SetDefault(logger)
	return logger
}
