package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"review-monitor/internal/bootstrap"
	"review-monitor/internal/domain"
	"review-monitor/internal/infra/config"
	applog "review-monitor/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "scheduler")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := bootstrap.Redis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}
	jobs, err := bootstrap.DetectionQueue(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь")
	}
	defer jobs.Close()

	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger.Info().Dur("interval", interval).Msg("scheduler: запущен")
	run(ctx, jobs, interval, logger)
}

// run ставит плановую задачу сразу и далее каждые interval, пока не отменён контекст.
func run(ctx context.Context, jobs domain.DetectionQueue, interval time.Duration, logger zerolog.Logger) {
	enqueue := func() {
		job := domain.DetectionJob{
			ID:          uuid.NewString(),
			Kind:        domain.JobDetect,
			Cause:       domain.TriggerScheduled,
			RequestedAt: time.Now().UTC(),
		}
		if err := jobs.Enqueue(ctx, job); err != nil {
			logger.Error().Err(err).Msg("scheduler: не удалось поставить задачу")
			return
		}
		logger.Debug().Str("job_id", job.ID).Msg("scheduler: задача поставлена")
	}

	enqueue()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueue()
		}
	}
}
