package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"review-monitor/internal/adapters/httpapi"
	"review-monitor/internal/adapters/repo"
	"review-monitor/internal/bootstrap"
	"review-monitor/internal/domain"
	"review-monitor/internal/infra/cache"
	"review-monitor/internal/infra/config"
	"review-monitor/internal/infra/db"
	httpinfra "review-monitor/internal/infra/http"
	applog "review-monitor/internal/infra/log"
	"review-monitor/internal/infra/metrics"
	"review-monitor/internal/usecase/pipeline"
)

// latestTTL ограничивает частоту обращений к Cafe24 и LLM со страницы мониторинга.
const latestTTL = 30 * time.Second

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "gateway")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AdminToken == "" {
		logger.Warn().Msg("gateway: ADMIN_TOKEN не задан, API мониторинга открыт")
	}
	if cfg.Cafe24.WebhookKey == "" {
		logger.Warn().Msg("gateway: WEBHOOK_EVENT_KEY не задан, вебхуки не проверяются")
	}

	rdb, err := bootstrap.Redis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: нет подключения к Redis")
	}
	if rdb == nil {
		logger.Fatal().Msg("gateway: не указан адрес Redis (REDIS_ADDR)")
	}
	defer rdb.Close()
	redisCache := cache.NewRedis(rdb)

	var pool *pgxpool.Pool
	var analysisLog domain.AnalysisLog
	if cfg.PGDSN != "" {
		pool, err = db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("gateway: нет подключения к БД")
		}
		defer pool.Close()
		repoAdapter := repo.NewPostgres(pool)
		if err := repoAdapter.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("gateway: не удалось подготовить журнал анализа")
		}
		analysisLog = repoAdapter
	}

	store, err := bootstrap.SnapshotStore(ctx, cfg, rdb, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось создать хранилище кэша")
	}
	source, err := bootstrap.ReviewSource(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось создать клиента Cafe24")
	}
	resolver, err := bootstrap.Resolver(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось создать классификатор")
	}

	jobs, err := bootstrap.DetectionQueue(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось инициализировать очередь")
	}
	defer jobs.Close()

	handler := httpapi.New(httpapi.Deps{
		Queue:       jobs,
		Dedup:       redisCache,
		DedupTTL:    cfg.Queues.WebhookTTL,
		Snapshots:   store,
		Capacity:    cfg.Cache.Capacity,
		Analyzer:    pipeline.NewAnalyzer(source, resolver, bootstrap.AlertPolicy(cfg)),
		LatestCache: redisCache,
		LatestTTL:   latestTTL,
		AnalysisLog: analysisLog,
		WebhookKey:  cfg.Cafe24.WebhookKey,
		AdminToken:  cfg.AdminToken,
		Logger:      logger,
	})

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handler.Routes(srv.Router)

	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("gateway: HTTP сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("gateway: ошибка остановки HTTP сервера")
	}
}
