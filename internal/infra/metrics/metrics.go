package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DetectionPassSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_pass_seconds",
		Help:    "Длительность прохода обнаружения новых отзывов",
		Buckets: prometheus.DefBuckets,
	})
	DetectionPassTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detection_pass_total",
		Help: "Количество проходов обнаружения",
	}, []string{"cause", "status"})
	DetectionOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "detection_outcome_total",
		Help: "Исходы сравнения выборки с кэшем",
	}, []string{"cause", "mode"})
	NewReviewsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "new_reviews_total",
		Help: "Количество обнаруженных новых отзывов",
	})
	ClassificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classification_total",
		Help: "Результаты классификации тональности",
	}, []string{"method", "sentiment", "stage"})
	ConflictTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentiment_conflict_total",
		Help: "Противоречия между оценкой и тональностью",
	}, []string{"type", "outcome"})
	AlertSendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_send_errors_total",
		Help: "Ошибки отправки оповещений",
	}, []string{"channel"})
	WebhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Входящие события вебхука",
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DetectionPassSeconds,
		DetectionPassTotal,
		DetectionOutcomeTotal,
		NewReviewsTotal,
		ClassificationTotal,
		ConflictTotal,
		AlertSendErrors,
		WebhookEventsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveDetection фиксирует исход сравнения с кэшем.
func ObserveDetection(cause, mode string, fresh int) {
	DetectionOutcomeTotal.WithLabelValues(cause, mode).Inc()
	if fresh > 0 {
		NewReviewsTotal.Add(float64(fresh))
	}
}

// ObservePass фиксирует длительность и статус прохода.
func ObservePass(cause string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DetectionPassSeconds.Observe(time.Since(start).Seconds())
	DetectionPassTotal.WithLabelValues(cause, status).Inc()
}

// ObserveClassification фиксирует итог классификации отзыва.
func ObserveClassification(method, sentiment, stage string) {
	ClassificationTotal.WithLabelValues(method, sentiment, stage).Inc()
}

// ObserveConflict фиксирует обработку противоречия.
func ObserveConflict(conflictType, outcome string) {
	ConflictTotal.WithLabelValues(conflictType, outcome).Inc()
}
