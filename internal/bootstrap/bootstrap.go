// Package bootstrap собирает адаптеры из конфигурации. Используется бинарями в cmd/.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"review-monitor/internal/adapters/cafe24"
	"review-monitor/internal/adapters/classifier"
	"review-monitor/internal/adapters/snapshot"
	"review-monitor/internal/domain"
	"review-monitor/internal/infra/config"
	"review-monitor/internal/infra/openai"
	"review-monitor/internal/infra/queue"
	"review-monitor/internal/usecase/pipeline"
	"review-monitor/internal/usecase/sentiment"
)

// ErrRedisRequired возвращается, если выбранный бэкенд требует Redis, а REDIS_ADDR пуст.
var ErrRedisRequired = errors.New("не указан REDIS_ADDR")

// Redis подключается к Redis. Пустой адрес означает, что Redis не используется.
// Принимает как host:port, так и redis:// URL.
func Redis(ctx context.Context, addr string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("разбор REDIS_ADDR: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Queue: очередь задач с освобождением ресурсов.
type Queue interface {
	domain.DetectionQueue
	Close() error
}

type redisQueue struct {
	*queue.RedisDetectionQueue
}

func (redisQueue) Close() error { return nil }

// DetectionQueue создаёт очередь по QUEUE_BACKEND (redis | rabbitmq).
func DetectionQueue(ctx context.Context, cfg config.AppConfig, rdb *redis.Client, logger zerolog.Logger) (Queue, error) {
	switch strings.ToLower(cfg.Queues.Backend) {
	case "", "redis":
		if rdb == nil {
			return nil, fmt.Errorf("очередь redis: %w", ErrRedisRequired)
		}
		q := queue.NewRedisDetectionQueue(rdb, cfg.Queues.Detection)
		return redisQueue{q}, nil
	case "rabbitmq", "amqp":
		if cfg.Queues.AMQPURL == "" {
			return nil, errors.New("очередь rabbitmq: не указан AMQP_URL")
		}
		q, err := queue.NewRabbitDetectionQueue(cfg.Queues.AMQPURL, cfg.Queues.Detection)
		if err != nil {
			return nil, fmt.Errorf("очередь rabbitmq: %w", err)
		}
		logger.Info().Str("queue", cfg.Queues.Detection).Msg("очередь RabbitMQ подключена")
		return q, nil
	default:
		return nil, fmt.Errorf("неизвестный QUEUE_BACKEND %q", cfg.Queues.Backend)
	}
}

// RecoverQueue возвращает в очередь задачи, которые не были подтверждены до перезапуска.
func RecoverQueue(ctx context.Context, q Queue, logger zerolog.Logger) {
	rq, ok := q.(redisQueue)
	if !ok {
		return
	}
	n, err := rq.Recover(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("не удалось вернуть незавершённые задачи")
		return
	}
	if n > 0 {
		logger.Info().Int("jobs", n).Msg("незавершённые задачи возвращены в очередь")
	}
}

// SnapshotStore выбирает хранилище снимка кэша по CACHE_BACKEND (file | redis | postgres).
func SnapshotStore(ctx context.Context, cfg config.AppConfig, rdb *redis.Client, pool *pgxpool.Pool) (domain.SnapshotStore, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case "", "file":
		return snapshot.NewFile(cfg.Cache.File), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("снимок в redis: %w", ErrRedisRequired)
		}
		return snapshot.NewRedis(rdb, cfg.Cache.RedisKey), nil
	case "postgres":
		if pool == nil {
			return nil, errors.New("снимок в postgres: не указан PG_DSN")
		}
		store := snapshot.NewPostgres(pool, cfg.Cache.SnapshotName)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("миграция снимков: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("неизвестный CACHE_BACKEND %q", cfg.Cache.Backend)
	}
}

// ReviewSource создаёт клиента Cafe24. Если задан CAFE24_TOKEN_FILE, токен обновляется
// через refresh_token, иначе используется CAFE24_ACCESS_TOKEN как есть.
func ReviewSource(cfg config.AppConfig, logger zerolog.Logger) (*cafe24.Client, error) {
	if cfg.Cafe24.MallID == "" && cfg.Cafe24.BaseURL == "" {
		return nil, errors.New("не указан CAFE24_MALL_ID")
	}
	c := cfg.Cafe24
	var tokens cafe24.TokenProvider = cafe24.StaticToken(c.AccessToken)
	if c.TokenFile != "" {
		base := strings.TrimRight(c.BaseURL, "/")
		if base == "" {
			base = fmt.Sprintf("https://%s.cafe24api.com/api/v2", c.MallID)
		}
		tokens = cafe24.NewFileTokenStore(c.TokenFile, base, c.ClientID, c.ClientSecret, logger)
	}
	return cafe24.NewClient(cafe24.Config{
		MallID:            c.MallID,
		BaseURL:           c.BaseURL,
		APIVersion:        c.APIVersion,
		LookbackDays:      c.LookbackDays,
		Timeout:           c.Timeout,
		EnrichProducts:    c.EnrichProducts,
		RequestsPerSecond: c.RequestsPerSecond,
	}, tokens, logger), nil
}

// Resolver собирает двухступенчатый классификатор. Без OPENAI_API_KEY вторая ступень
// пуста и противоречия остаются с результатом первой.
func Resolver(cfg config.AppConfig, logger zerolog.Logger) (*sentiment.Resolver, error) {
	local, err := classifier.LoadLocal(cfg.Classifier.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("локальная модель: %w", err)
	}
	fast := sentiment.Chain{local}
	var escalation sentiment.Chain

	client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	if client.Configured() {
		if cfg.Classifier.Stage1LLMFallback {
			fast = append(fast, classifier.NewLLM(client, cfg.OpenAI.Model, classifier.ModeGeneral, cfg.OpenAI.Timeout))
		}
		escalation = sentiment.Chain{classifier.NewLLM(client, cfg.OpenAI.Model, classifier.ModeEscalation, cfg.Classifier.EscalationTimeout)}
	} else {
		logger.Warn().Msg("OPENAI_API_KEY не задан, эскалация противоречий отключена")
	}
	logger.Info().Str("model", local.ModelName()).Int("fast", fast.Len()).Int("escalation", escalation.Len()).Msg("классификатор готов")

	return sentiment.NewResolver(fast, escalation, sentiment.Options{
		MaxRunes:          cfg.Classifier.MaxRunes,
		LowConfidence:     cfg.Classifier.LowConfidence,
		EscalationTimeout: cfg.Classifier.EscalationTimeout,
	}, logger), nil
}

// AlertPolicy переводит настройки оповещений в правило отбора.
func AlertPolicy(cfg config.AppConfig) pipeline.AlertPolicy {
	return pipeline.AlertPolicy{
		IncludeNeutral: cfg.Alerts.IncludeNeutral,
		MinConfidence:  cfg.Alerts.MinConfidence,
	}
}
