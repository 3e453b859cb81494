package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/careloop/clinic-inbox/internal/api"
	"github.com/careloop/clinic-inbox/internal/appointment"
	"github.com/careloop/clinic-inbox/internal/config"
	"github.com/careloop/clinic-inbox/internal/conversation"
	"github.com/careloop/clinic-inbox/internal/db"
	"github.com/careloop/clinic-inbox/internal/directory"
	"github.com/careloop/clinic-inbox/internal/logging"
	redisclient "github.com/careloop/clinic-inbox/internal/redis"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("api-server", "dev")
		log.Fatal().Err(err).Msg("config load error")
	}

	logging.Init("api-server", cfg.Env)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

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

	// Connect Redis
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
	badges := redisclient.NewBadgeCache(rdb, cfg.BadgeCacheTTL)
	counter := conversation.NewCounter(store, badges, log.Logger)

	facilityRepo := directory.NewPgRepository(pgPool)
	apptRepo := appointment.NewPgRepository(pgPool)
	reconciler := conversation.NewReconciler(store, log.Logger)
	marks := conversation.NewPgWatermarkStore(pgPool)
	sweeper := conversation.NewSweeper(facilityRepo, apptRepo, reconciler, marks, cfg.SweepWorkers, log.Logger)
	locker := redisclient.NewRedisSweepLocker(rdb, cfg.SweepLockTTL)
	runner := conversation.NewLockedRunner(sweeper, locker)

	router := api.NewRouter(api.RouterConfig{
		Store:   store,
		Counter: counter,
		Runner:  runner,
		PgPool:  pgPool,
		Redis:   rdb,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("api-server stopped")
}
