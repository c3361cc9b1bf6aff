// Package main is the entry point for the matching, risk and
// negotiation engine. It wires the DI container, starts the HTTP
// server, the matching scheduler, the outbox dispatcher and the
// reliability monitor, then waits for a shutdown signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rnrl/matchengine/internal/config"
	"github.com/rnrl/matchengine/internal/di"
	"github.com/rnrl/matchengine/internal/server"
	"github.com/rnrl/matchengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting matching engine")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		App:         container.App,
		Reliability: container.Reliability,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("HTTP server started")

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()

	go container.Matching.Run(schedulerCtx)
	log.Info().Msg("matching scheduler started")

	container.Outbox.Start()
	log.Info().Msg("outbox dispatcher started")

	container.Reliability.Start()
	log.Info().Msg("reliability monitor started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancelScheduler()
	container.Matching.Stop()
	container.Outbox.Stop()
	container.Reliability.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("matching engine stopped")
}
