package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"review-monitor/internal/adapters/cafe24"
	"review-monitor/internal/domain"
	httpinfra "review-monitor/internal/infra/http"
	"review-monitor/internal/infra/metrics"
	"review-monitor/internal/usecase/pipeline"
)

const (
	maxWebhookBody = 1 << 20
	latestCacheKey = "review-monitor:latest:"
	maxLatestLimit = 100
)

// LatestAnalyzer классифицирует последние отзывы по запросу.
type LatestAnalyzer interface {
	Latest(ctx context.Context, limit int) (pipeline.LatestReport, error)
}

// ResponseCache кэширует готовые ответы.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Deps: зависимости HTTP API.
type Deps struct {
	Queue       domain.DetectionQueue
	Dedup       domain.Cache
	DedupTTL    time.Duration
	Snapshots   domain.SnapshotStore
	Capacity    int
	Analyzer    LatestAnalyzer
	LatestCache ResponseCache
	LatestTTL   time.Duration
	AnalysisLog domain.AnalysisLog
	WebhookKey  string
	AdminToken  string
	Logger      zerolog.Logger
}

// Handler обслуживает вебхуки Cafe24 и API мониторинга.
type Handler struct {
	deps  Deps
	log   zerolog.Logger
	newID func() string
	now   func() time.Time
}

// New создаёт Handler.
func New(deps Deps) *Handler {
	if deps.DedupTTL <= 0 {
		deps.DedupTTL = 10 * time.Minute
	}
	if deps.LatestTTL <= 0 {
		deps.LatestTTL = time.Minute
	}
	return &Handler{
		deps:  deps,
		log:   deps.Logger.With().Str("component", "gateway").Logger(),
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Routes регистрирует маршруты.
func (h *Handler) Routes(r chi.Router) {
	r.With(httpinfra.WebhookKeyMiddleware(h.deps.WebhookKey)).Post("/webhook/cafe24", h.handleWebhook)
	r.Group(func(admin chi.Router) {
		admin.Use(httpinfra.AdminAuthMiddleware(h.deps.AdminToken))
		admin.Post("/monitoring/init", h.handleInit)
		admin.Post("/monitoring/trigger", h.handleTrigger)
		admin.Get("/monitoring/status", h.handleStatus)
		admin.Get("/api/reviews/latest", h.handleLatest)
		admin.Get("/api/reviews/analyses", h.handleAnalyses)
	})
}

type jobResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		httpinfra.WriteError(w, http.StatusBadRequest, "не удалось прочитать тело")
		return
	}
	event, err := cafe24.ParseWebhook(body)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid").Inc()
		httpinfra.WriteError(w, http.StatusBadRequest, "некорректный JSON вебхука")
		return
	}
	if !event.IsArticleCreated() {
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		h.log.Debug().Int64("event_no", int64(event.EventNo)).Str("event_type", event.EventType).Msg("событие пропущено")
		httpinfra.WriteJSON(w, http.StatusOK, jobResponse{Status: "ignored"})
		return
	}

	job := h.newJob(domain.JobDetect, domain.TriggerWebhook)
	job.EventNo = int64(event.EventNo)
	job.BoardNo = int64(event.Resource.BoardNo)

	enqueued := false
	enqueue := func() error {
		enqueued = true
		return h.deps.Queue.Enqueue(r.Context(), job)
	}
	if key := event.TraceKey(); key != "" && h.deps.Dedup != nil {
		err = h.deps.Dedup.Once(r.Context(), key, h.deps.DedupTTL, enqueue)
	} else {
		err = enqueue()
	}
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		h.log.Error().Err(err).Str("job", job.ID).Msg("не удалось поставить задачу из вебхука")
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "очередь недоступна")
		return
	}
	if !enqueued {
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		httpinfra.WriteJSON(w, http.StatusOK, jobResponse{Status: "duplicate"})
		return
	}
	metrics.WebhookEventsTotal.WithLabelValues("queued").Inc()
	h.log.Info().Str("job", job.ID).Int64("board_no", job.BoardNo).Msg("вебхук: задача поставлена")
	httpinfra.WriteJSON(w, http.StatusAccepted, jobResponse{Status: "queued", JobID: job.ID})
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	h.enqueueJob(w, r, h.newJob(domain.JobInitialize, domain.TriggerManual))
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	h.enqueueJob(w, r, h.newJob(domain.JobDetect, domain.TriggerManual))
}

func (h *Handler) enqueueJob(w http.ResponseWriter, r *http.Request, job domain.DetectionJob) {
	if err := h.deps.Queue.Enqueue(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("kind", string(job.Kind)).Msg("не удалось поставить задачу")
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "очередь недоступна")
		return
	}
	h.log.Info().Str("job", job.ID).Str("kind", string(job.Kind)).Msg("задача поставлена вручную")
	httpinfra.WriteJSON(w, http.StatusAccepted, jobResponse{Status: "queued", JobID: job.ID})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Snapshots == nil {
		httpinfra.WriteError(w, http.StatusNotImplemented, "хранилище кэша не настроено")
		return
	}
	status, err := pipeline.SnapshotStatus(r.Context(), h.deps.Snapshots, h.deps.Capacity)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось прочитать состояние кэша")
		httpinfra.WriteError(w, http.StatusInternalServerError, "кэш недоступен")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	if h.deps.Analyzer == nil {
		httpinfra.WriteError(w, http.StatusNotImplemented, "анализ не настроен")
		return
	}
	limit := parseLimit(r, pipeline.DefaultFetchLimit)
	key := latestCacheKey + strconv.Itoa(limit)
	if h.deps.LatestCache != nil {
		if cached, err := h.deps.LatestCache.Get(r.Context(), key); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			_, _ = w.Write(cached)
			return
		}
	}
	report, err := h.deps.Analyzer.Latest(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить последние отзывы")
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrSourceUnavailable) {
			status = http.StatusBadGateway
		}
		httpinfra.WriteError(w, status, "источник отзывов недоступен")
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		httpinfra.WriteError(w, http.StatusInternalServerError, "ошибка сериализации")
		return
	}
	if h.deps.LatestCache != nil {
		if err := h.deps.LatestCache.Set(r.Context(), key, payload, h.deps.LatestTTL); err != nil {
			h.log.Warn().Err(err).Msg("не удалось закэшировать ответ")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

type analysisView struct {
	JobID      string                 `json:"job_id"`
	Cause      domain.TriggerCause    `json:"cause"`
	Review     domain.Review          `json:"review"`
	Result     domain.SentimentResult `json:"sentiment"`
	Flagged    bool                   `json:"flagged"`
	AnalyzedAt time.Time              `json:"analyzed_at"`
}

func (h *Handler) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if h.deps.AnalysisLog == nil {
		httpinfra.WriteError(w, http.StatusNotImplemented, "журнал анализа не настроен")
		return
	}
	filter, err := parseAnalysisFilter(r)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.deps.AnalysisLog.ListRecentAnalyses(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось прочитать журнал анализа")
		httpinfra.WriteError(w, http.StatusInternalServerError, "журнал недоступен")
		return
	}
	out := make([]analysisView, 0, len(records))
	for _, rec := range records {
		out = append(out, analysisView(rec))
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"analyses": out})
}

func (h *Handler) newJob(kind domain.JobKind, cause domain.TriggerCause) domain.DetectionJob {
	return domain.DetectionJob{ID: h.newID(), Kind: kind, Cause: cause, RequestedAt: h.now().UTC()}
}

// parseAnalysisFilter читает sentiment, flagged, conflicts и since (RFC3339) из строки запроса.
func parseAnalysisFilter(r *http.Request) (domain.AnalysisFilter, error) {
	q := r.URL.Query()
	filter := domain.AnalysisFilter{
		Limit:         parseLimit(r, 50),
		FlaggedOnly:   q.Get("flagged") == "true",
		ConflictsOnly: q.Get("conflicts") == "true",
	}
	if raw := q.Get("sentiment"); raw != "" {
		sentiment, ok := domain.ParseSentiment(raw)
		if !ok {
			return domain.AnalysisFilter{}, fmt.Errorf("неизвестная тональность %q", raw)
		}
		filter.Sentiment = sentiment
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.AnalysisFilter{}, fmt.Errorf("since: ожидается RFC3339")
		}
		filter.Since = since
	}
	return filter, nil
}

func parseLimit(r *http.Request, def int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > maxLatestLimit {
		return maxLatestLimit
	}
	return limit
}
