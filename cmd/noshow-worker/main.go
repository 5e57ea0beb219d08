package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "noshow-worker").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Str("schedule", cfg.NoShowSchedule).
		Dur("grace", cfg.NoShowGrace).
		Msg("noshow-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	var locker lock.Locker = lock.NewMemoryLocker(cfg.LockWait)
	if cfg.LockBackend == config.LockBackendRedis {
		rdb, err := redisclient.NewClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	}

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, repo, locker, cfg, logger)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.NoShowSchedule, func() { sweep(rootCtx, svc, cfg.NoShowGrace, logger) }); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.NoShowSchedule).Msg("invalid cron schedule")
	}

	// run once at startup, then on schedule
	sweep(rootCtx, svc, cfg.NoShowGrace, logger)
	c.Start()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping noshow-worker")
	<-c.Stop().Done()
}

func sweep(ctx context.Context, svc *appointment.Service, grace time.Duration, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.SweepNoShows(runCtx, grace)
	if err != nil {
		logger.Error().Err(err).Int("marked", marked).Msg("no-show sweep failed")
		return
	}
	logger.Info().Int("marked", marked).Dur("took", time.Since(start)).Msg("no-show sweep complete")
}
