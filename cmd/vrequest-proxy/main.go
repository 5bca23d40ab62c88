// Command vrequest-proxy is a small HTTP service that fetches JSON URLs
// through the request manager.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andyfriends/vrequest/pkg/config"
	"github.com/andyfriends/vrequest/pkg/logging"
	"github.com/andyfriends/vrequest/pkg/vrequest"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(getEnv("VREQUEST_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := vrequest.OpenApp(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}
	defer app.Close()

	manager, err := vrequest.Singleton(app)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create request manager")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(app, manager),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("user_agent", cfg.UserAgent).
			Msg("Starting vrequest proxy")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Request manager shutdown failed")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
