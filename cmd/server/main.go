// Package main starts the read-only status API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/ScanDrop/internal/api"
	"github.com/dharsanguruparan/ScanDrop/internal/config"
	"github.com/dharsanguruparan/ScanDrop/internal/database"
	"github.com/dharsanguruparan/ScanDrop/internal/logging"
	"github.com/dharsanguruparan/ScanDrop/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", false)
		fallback.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Pretty)

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	srv := api.New(cfg.Address,
		repository.NewEnvelopeRepository(pool),
		repository.NewProcessEventRepository(pool),
		log)

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
