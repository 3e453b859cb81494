package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/careloop/clinic-inbox/internal/appointment"
	"github.com/careloop/clinic-inbox/internal/config"
	"github.com/careloop/clinic-inbox/internal/conversation"
	"github.com/careloop/clinic-inbox/internal/db"
	"github.com/careloop/clinic-inbox/internal/directory"
	"github.com/careloop/clinic-inbox/internal/logging"
	redisclient "github.com/careloop/clinic-inbox/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("sync-worker", "dev")
		log.Fatal().Err(err).Msg("config load error")
	}

	logging.Init("sync-worker", cfg.Env)
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.SweepInterval).
		Int("workers", cfg.SweepWorkers).
		Msg("sync-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PgMaxConns)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	store := conversation.NewPgStore(pgPool)
	facilityRepo := directory.NewPgRepository(pgPool)
	apptRepo := appointment.NewPgRepository(pgPool)
	reconciler := conversation.NewReconciler(store, log.Logger)
	marks := conversation.NewPgWatermarkStore(pgPool)
	sweeper := conversation.NewSweeper(facilityRepo, apptRepo, reconciler, marks, cfg.SweepWorkers, log.Logger)
	locker := redisclient.NewRedisSweepLocker(rdb, cfg.SweepLockTTL)
	runner := conversation.NewLockedRunner(sweeper, locker)

	// Run once at startup
	runOnce(rootCtx, runner)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping sync worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, runner)
		}
	}
}

func runOnce(ctx context.Context, runner *conversation.LockedRunner) {
	summary, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, conversation.ErrSweepInProgress) {
			log.Info().Msg("another instance holds the sweep lock, skipping run")
			return
		}
		log.Error().Err(err).Msg("sweep run error")
		return
	}

	log.Info().
		Int("scanned", summary.Scanned).
		Int("created", summary.Created).
		Int("messages_appended", summary.MessagesAppended).
		Int("failed", summary.Failed).
		Msg("sweep run complete")
}
