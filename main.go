// Package main is the entry point for the host limiter application.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const shutdownTimeout = 10 * time.Second

// main parses flags, loads the limiters, and serves the routes until
// interrupted.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// A missing .env file is fine; the process environment still applies.
	_ = godotenv.Load()

	port := flag.Int("p", envInt("HOSTLIMIT_PORT", 8080), "Port to run the HTTP server on")
	configPath := flag.String("config", envString("HOSTLIMIT_CONFIG", "config.yaml"), "Path to the configuration file")
	logLevelStr := flag.String("log-level", envString("HOSTLIMIT_LOG_LEVEL", "info"), "Logging level (trace, debug, info, warn, error, fatal, panic)")
	flag.Parse()

	logLevel, err := zerolog.ParseLevel(*logLevelStr)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", *logLevelStr).Msg("Invalid log level provided")
	}
	zerolog.SetGlobalLevel(logLevel)

	log.Info().Str("config_path", *configPath).Msg("Starting application initialization")
	app, cleanup, err := InitializeApplication(ConfigPath(*configPath))
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Application startup failed")
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           app.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", srv.Addr).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", srv.Addr).Msg("HTTP server stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("env", key).Str("value", v).Msg("Ignoring non-numeric environment value")
		return fallback
	}
	return n
}
