// Package main starts the asynq worker serving the error-notification
// dispatch queue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ScanDrop/internal/config"
	"github.com/dharsanguruparan/ScanDrop/internal/logging"
	"github.com/dharsanguruparan/ScanDrop/internal/notify"
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

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	sender := notify.NewClient(cfg.Notifications.URL, cfg.Notifications.Timeout)
	handler := notify.NewHandler(sender, log)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(handler.Mux()); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
}
