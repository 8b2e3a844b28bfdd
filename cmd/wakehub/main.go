package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wakehub/wakehub/internal/config"
	"github.com/wakehub/wakehub/internal/logging"
	"github.com/wakehub/wakehub/internal/server"
)

func main() {
	// Local development reads WAKEHUB_ variables from a .env file.
	_ = godotenv.Load()

	cfg, err := config.Load()
	logging.Configure(logging.Config{Level: cfg.LogLevel})
	logger := logging.WithComponent("main")
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	addr := cfg.Host + ":" + cfg.Port

	handler, shutdownHandler, err := server.NewHandler(cfg, server.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("server init failed")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		logger.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("http shutdown failed")
		}
		if err := shutdownHandler(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Str("addr", addr).Msg("wakehub listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
