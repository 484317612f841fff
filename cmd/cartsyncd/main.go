// cartsyncd keeps a local shopping cart consistent with the remote cart
// service and serves it to local UIs over REST, SSE and MCP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartsync/internal/cartstate"
	"cartsync/internal/config"
	"cartsync/internal/engine"
	"cartsync/internal/handler"
	"cartsync/internal/ledger"
	"cartsync/internal/middleware"
	"cartsync/internal/remote"
	"cartsync/internal/session"
	"cartsync/internal/transport"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Initialize structured logger
	logger := initLogger(cfg)

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("api_url", cfg.APIBaseURL()),
		slog.String("currency", cfg.Currency.String()),
		slog.Int("unknown_stock_ceiling", cfg.UnknownStockCeiling),
		slog.Bool("chrome_tls", cfg.ChromeTLS),
	)

	// Session gate doubles as the bearer token source for the cart service
	gate := session.NewTokenGate()

	client := remote.NewClient(cfg.APIBaseURL(), gate,
		remote.WithTransport(transport.New(transport.Options{
			Timeout:   cfg.RequestTimeout,
			ChromeTLS: cfg.ChromeTLS,
		}), cfg.RequestTimeout),
	)

	eng := engine.New(cartstate.New(nil), client, gate,
		engine.WithLogger(logger.With(slog.String("component", "engine"))),
		engine.WithLedger(ledger.New(cfg.UnknownStockCeiling)),
		engine.WithResyncTimeout(cfg.RequestTimeout),
	)
	defer eng.Close()

	if cfg.Remote.APIToken != "" {
		if err := gate.SetToken(cfg.Remote.APIToken); err != nil {
			return fmt.Errorf("starting session from configured token: %w", err)
		}
		logger.Info("session started from configuration")
	}

	h := handler.New(eng, gate, handler.Options{
		Currency: cfg.Currency,
		Version:  version,
	}, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → logging → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Long-lived event streams end when shutdown starts instead of holding it open
	baseCtx, cancelBase := context.WithCancel(ctx)
	defer cancelBase()
	server.BaseContext = func(net.Listener) context.Context { return baseCtx }
	server.RegisterOnShutdown(cancelBase)

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
			slog.String("version", version),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
