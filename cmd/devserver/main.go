package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxiscribe/examclient/internal/config"
	"github.com/voxiscribe/examclient/internal/devserver"
	"github.com/voxiscribe/examclient/internal/logger"
	"github.com/voxiscribe/examclient/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.DevServerPort).
		Str("log_level", cfg.LogLevel).
		Msg("Starting exam devserver")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	// ─── Setup Router ──────────────────────────────────────────────────
	srv := devserver.New(cfg.AllowedOrigins, log)
	router := srv.Router(cfg.AllowedOrigins)

	// ─── Create HTTP Server ────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:    ":" + cfg.DevServerPort,
		Handler: router,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.DevServerPort).Msg("Server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
