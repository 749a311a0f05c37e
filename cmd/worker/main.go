package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"review-monitor/internal/adapters/notify"
	"review-monitor/internal/adapters/repo"
	"review-monitor/internal/bootstrap"
	"review-monitor/internal/domain"
	"review-monitor/internal/infra/config"
	"review-monitor/internal/infra/db"
	applog "review-monitor/internal/infra/log"
	"review-monitor/internal/infra/metrics"
	"review-monitor/internal/usecase/detect"
	"review-monitor/internal/usecase/pipeline"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "worker")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	var pool *pgxpool.Pool
	var analysisLog domain.AnalysisLog
	if cfg.PGDSN != "" {
		p, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
		}
		defer p.Close()
		pool = p
		repoAdapter := repo.NewPostgres(pool)
		if err := repoAdapter.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось подготовить журнал анализа")
		}
		analysisLog = repoAdapter
	}

	rdb, err := bootstrap.Redis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	store, err := bootstrap.SnapshotStore(ctx, cfg, rdb, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать хранилище кэша")
	}
	source, err := bootstrap.ReviewSource(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать клиента Cafe24")
	}
	resolver, err := bootstrap.Resolver(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать классификатор")
	}

	dispatcher := notify.NewDispatcher(notify.Formatter{DashboardURL: cfg.DashboardURL}, logger, alertChannels(cfg, logger)...)
	if len(dispatcher.Channels()) == 0 {
		logger.Warn().Msg("worker: каналы оповещений не настроены, новые отзывы будут только в логах")
	}

	cache := detect.NewReviewCache(store, cfg.Cache.Capacity, logger)
	p, err := pipeline.New(pipeline.Deps{
		Source:      source,
		Detector:    detect.NewDetector(cache, logger),
		Classifier:  resolver,
		Dispatcher:  dispatcher,
		AnalysisLog: analysisLog,
		FetchLimit:  cfg.Cache.FetchLimit,
		Policy:      bootstrap.AlertPolicy(cfg),
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось собрать конвейер")
	}
	p.Restore(ctx)

	jobs, err := bootstrap.DetectionQueue(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь")
	}
	defer jobs.Close()
	bootstrap.RecoverQueue(ctx, jobs, logger)

	w := &jobWorker{
		queue:    jobs,
		pipeline: p,
		log:      logger.With().Str("component", "worker").Logger(),
		attempts: make(map[string]int),
	}
	logger.Info().Int("capacity", cache.Capacity()).Int("cached", cache.Len()).Msg("worker: запущен")
	w.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}

func alertChannels(cfg config.AppConfig, logger zerolog.Logger) []notify.Channel {
	var channels []notify.Channel
	if chatIDs := cfg.TelegramChatIDs(); cfg.Telegram.Token != "" && len(chatIDs) > 0 {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось создать бота")
		}
		channels = append(channels, notify.NewTelegram(botAPI, chatIDs))
	}
	if cfg.ChannelTalk.AccessKey != "" && cfg.ChannelTalk.SecretKey != "" && cfg.ChannelTalk.GroupID != "" {
		channels = append(channels, notify.NewChannelTalk(notify.ChannelTalkConfig{
			BaseURL:   cfg.ChannelTalk.BaseURL,
			AccessKey: cfg.ChannelTalk.AccessKey,
			SecretKey: cfg.ChannelTalk.SecretKey,
			GroupID:   cfg.ChannelTalk.GroupID,
		}))
	}
	return channels
}

type jobHandler interface {
	Handle(ctx context.Context, job domain.DetectionJob) (pipeline.PassReport, error)
}

type jobWorker struct {
	queue    domain.DetectionQueue
	pipeline jobHandler
	log      zerolog.Logger
	attempts map[string]int
}

const maxDeliveryAttempts = 5

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

// Run обрабатывает задачи по одной, пока не отменён контекст.
func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		w.attempts[job.ID]++
		attempt := w.attempts[job.ID]
		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Str("cause", string(job.Cause)).
			Int("attempt", attempt).
			Logger()

		outcome := w.handleJob(ctx, job, jobLog)
		if outcome == jobOutcomeRetry && attempt >= maxDeliveryAttempts {
			jobLog.Error().Msg("worker: достигнут предел попыток, задача снимается")
			outcome = jobOutcomeCompleted
		}
		if outcome == jobOutcomeCompleted {
			delete(w.attempts, job.ID)
		}
		if err := ack(outcome == jobOutcomeCompleted); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
		if outcome == jobOutcomeRetry {
			time.Sleep(time.Second)
		}
	}
}

// handleJob выполняет задачу. Повтор нужен только при недоступном источнике:
// кэш в этом случае не менялся, и следующий проход увидит те же отзывы.
func (w *jobWorker) handleJob(ctx context.Context, job domain.DetectionJob, jobLog zerolog.Logger) jobOutcome {
	report, err := w.pipeline.Handle(ctx, job)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrPassInProgress):
		jobLog.Warn().Msg("worker: проход уже выполняется, повторим позже")
		return jobOutcomeRetry
	case errors.Is(err, domain.ErrSourceUnavailable):
		if job.Cause == domain.TriggerScheduled {
			jobLog.Warn().Err(err).Msg("worker: Cafe24 недоступен, дождёмся следующего опроса")
			return jobOutcomeCompleted
		}
		jobLog.Error().Err(err).Msg("worker: Cafe24 недоступен, задача вернётся в очередь")
		return jobOutcomeRetry
	default:
		jobLog.Error().Err(err).Msg("worker: задача завершилась ошибкой")
		return jobOutcomeCompleted
	}

	jobLog.Info().
		Int("fetched", report.Fetched).
		Int("new", len(report.New)).
		Int("flagged", len(report.Flagged)).
		Int("cache_size", report.CacheSize).
		Dur("duration", report.Duration).
		Msg("worker: задача выполнена")
	return jobOutcomeCompleted
}
