// Package main starts the ingestion service: the cron-driven ingest pass
// over the source containers plus the paced validation-retry pass.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ScanDrop/internal/blobstore"
	"github.com/dharsanguruparan/ScanDrop/internal/config"
	"github.com/dharsanguruparan/ScanDrop/internal/database"
	"github.com/dharsanguruparan/ScanDrop/internal/docstore"
	"github.com/dharsanguruparan/ScanDrop/internal/lease"
	"github.com/dharsanguruparan/ScanDrop/internal/lifecycle"
	"github.com/dharsanguruparan/ScanDrop/internal/logging"
	"github.com/dharsanguruparan/ScanDrop/internal/metafile"
	"github.com/dharsanguruparan/ScanDrop/internal/ocrvalidation"
	"github.com/dharsanguruparan/ScanDrop/internal/pipeline"
	"github.com/dharsanguruparan/ScanDrop/internal/queue"
	"github.com/dharsanguruparan/ScanDrop/internal/repository"
	"github.com/dharsanguruparan/ScanDrop/internal/scheduler"
	"github.com/dharsanguruparan/ScanDrop/internal/upload"
	"github.com/dharsanguruparan/ScanDrop/internal/verifier"
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

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("ingestor stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	envelopes := repository.NewEnvelopeRepository(pool)
	events := repository.NewProcessEventRepository(pool)
	lifecycleSvc := lifecycle.New(envelopes, events, log)

	blobs, err := blobstore.New(cfg)
	if err != nil {
		return fmt.Errorf("init blob storage: %w", err)
	}
	containerNames := make([]string, 0, len(cfg.Containers))
	for _, ct := range cfg.Containers {
		containerNames = append(containerNames, ct.Name)
	}
	if err := blobs.EnsureContainers(ctx, containerNames); err != nil {
		return fmt.Errorf("ensure containers: %w", err)
	}

	docs := docstore.New(blobs.Minio(), cfg.DocStore.Bucket, cfg.Storage.Region)
	if err := docs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure document bucket: %w", err)
	}

	verif := verifier.New()
	for _, ct := range cfg.Containers {
		if ct.PublicKeyPath == "" {
			continue
		}
		pemBytes, err := os.ReadFile(ct.PublicKeyPath)
		if err != nil {
			return fmt.Errorf("read public key for %s: %w", ct.Name, err)
		}
		if err := verif.RegisterKey(ct.Name, pemBytes); err != nil {
			return fmt.Errorf("register public key for %s: %w", ct.Name, err)
		}
	}

	parser := metafile.NewParser(metafile.WithPDFCheck(metafile.CheckPDF))
	uploads := upload.New(docs, lifecycleSvc, log)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	publisher := queue.NewPublisher(asynqClient)
	defer publisher.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	manager := lease.NewManager(
		lease.NewMinioMetadata(blobs.Minio()),
		lease.NewRedisLocker(rdb),
		lease.Config{
			MaxRetries:  cfg.Retry.MaxRetries,
			LeaseTTL:    cfg.Retry.LeaseTTL,
			BackoffBase: cfg.Retry.BackoffBase,
			BackoffCap:  cfg.Retry.BackoffCap,
		}, log)

	common := []pipeline.Option{}
	if cfg.OcrValidation.URL != "" {
		common = append(common, pipeline.WithOCRValidation(
			ocrvalidation.NewClient(cfg.OcrValidation.URL, cfg.OcrValidation.Timeout)))
	}

	ingestPipe := pipeline.New(cfg.Containers, blobs, verif, parser, envelopes,
		lifecycleSvc, uploads, publisher, log,
		append(common, pipeline.WithRetryGate(lease.FreshGate{M: manager}))...)
	retryPipe := pipeline.New(cfg.Containers, blobs, verif, parser, envelopes,
		lifecycleSvc, uploads, publisher, log,
		append(common, pipeline.WithRetryGate(lease.RetryGate{M: manager}))...)

	sched := scheduler.New(ctx, scheduler.NewRedisJobLock(rdb, cfg.Scheduler.LockMinHold), log)
	if err := sched.Register(cfg.Scheduler.IngestSpec, "ingest", ingestPipe.Run); err != nil {
		return err
	}
	if err := sched.Register(cfg.Scheduler.ValidationRetrySpec, "validation-retry", retryPipe.Run); err != nil {
		return err
	}

	sched.Start()
	log.Info().Int("containers", len(cfg.Containers)).Msg("ingestor running")
	<-ctx.Done()
	sched.Stop()
	return nil
}
