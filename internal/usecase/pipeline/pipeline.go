package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"review-monitor/internal/domain"
	"review-monitor/internal/infra/metrics"
	"review-monitor/internal/usecase/detect"
)

// ErrPassInProgress возвращается, если проход уже выполняется.
var ErrPassInProgress = errors.New("проход обнаружения уже выполняется")

// DefaultFetchLimit: сколько последних отзывов запрашивается за проход.
const DefaultFetchLimit = 10

// BatchClassifier классифицирует набор отзывов по порядку.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, reviews []domain.Review) []domain.AnalyzedReview
}

// Deps: зависимости конвейера.
type Deps struct {
	Source      domain.ReviewSource
	Detector    *detect.Detector
	Classifier  BatchClassifier
	Dispatcher  domain.AlertDispatcher
	AnalysisLog domain.AnalysisLog
	FetchLimit  int
	Policy      AlertPolicy
	Logger      zerolog.Logger
}

// PassReport описывает итог одного прохода.
type PassReport struct {
	JobID     string                  `json:"job_id,omitempty"`
	Cause     domain.TriggerCause     `json:"cause"`
	Fetched   int                     `json:"fetched"`
	New       []domain.AnalyzedReview `json:"new_reviews"`
	Flagged   []domain.AnalyzedReview `json:"flagged_reviews"`
	Stats     Statistics              `json:"statistics"`
	AlertErr  string                  `json:"alert_error,omitempty"`
	Duration  time.Duration           `json:"duration"`
	CacheSize int                     `json:"cache_size"`
}

// Status: состояние кэша для мониторинга.
type Status struct {
	CacheSize   int             `json:"cache_size"`
	Capacity    int             `json:"capacity"`
	LastUpdated time.Time       `json:"last_updated"`
	Latest      []domain.Review `json:"latest_reviews"`
}

// Pipeline связывает источник, детектор, классификатор и оповещения.
type Pipeline struct {
	deps Deps
	log  zerolog.Logger
	mu   sync.Mutex
	now  func() time.Time
}

// New проверяет зависимости и создаёт конвейер.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline: не задан источник отзывов")
	case deps.Detector == nil:
		return nil, errors.New("pipeline: не задан детектор")
	case deps.Classifier == nil:
		return nil, errors.New("pipeline: не задан классификатор")
	case deps.Dispatcher == nil:
		return nil, errors.New("pipeline: не задан рассыльщик оповещений")
	}
	if deps.FetchLimit <= 0 {
		deps.FetchLimit = DefaultFetchLimit
	}
	log := deps.Logger.With().Str("component", "pipeline").Logger()
	// отзывы за пределами кэша не с чем сравнивать
	if capacity := deps.Detector.Cache().Capacity(); deps.FetchLimit > capacity {
		log.Warn().Int("fetch_limit", deps.FetchLimit).Int("capacity", capacity).Msg("FETCH_LIMIT больше ёмкости кэша, используем ёмкость")
		deps.FetchLimit = capacity
	}
	return &Pipeline{
		deps: deps,
		log:  log,
		now:  time.Now,
	}, nil
}

// Restore загружает кэш из хранилища снимков.
func (p *Pipeline) Restore(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deps.Detector.Cache().Load(ctx)
}

// Handle выполняет задачу из очереди.
func (p *Pipeline) Handle(ctx context.Context, job domain.DetectionJob) (PassReport, error) {
	if job.Kind == domain.JobInitialize {
		n, err := p.InitializeCache(ctx)
		return PassReport{JobID: job.ID, Cause: job.Cause, CacheSize: n}, err
	}
	return p.TriggerDetectionPass(ctx, job)
}

// TriggerDetectionPass выполняет один проход: выборка, сравнение с кэшем,
// классификация новых отзывов, оповещение и запись журнала.
// Ошибка источника возвращается без изменения кэша; ошибки оповещения только логируются.
func (p *Pipeline) TriggerDetectionPass(ctx context.Context, job domain.DetectionJob) (report PassReport, err error) {
	if !p.mu.TryLock() {
		return PassReport{}, ErrPassInProgress
	}
	defer p.mu.Unlock()

	if job.Cause == "" {
		job.Cause = domain.TriggerScheduled
	}
	start := p.now()
	report = PassReport{JobID: job.ID, Cause: job.Cause}
	defer func() {
		report.Duration = p.now().Sub(start)
		metrics.ObservePass(string(job.Cause), start, err)
	}()

	log := p.log.With().Str("job", job.ID).Str("cause", string(job.Cause)).Logger()
	batch, err := p.deps.Source.FetchLatest(ctx, p.deps.FetchLimit)
	if err != nil {
		log.Error().Err(err).Msg("не удалось получить отзывы")
		return report, fmt.Errorf("получение отзывов: %w", err)
	}
	report.Fetched = len(batch)

	fresh := p.deps.Detector.DetectNew(ctx, batch, job.Cause)
	report.CacheSize = p.deps.Detector.Cache().Len()
	if len(fresh) == 0 {
		log.Debug().Int("fetched", len(batch)).Msg("новых отзывов нет")
		return report, nil
	}

	analyzed := p.deps.Classifier.ClassifyBatch(ctx, fresh)
	flagged := p.deps.Policy.Select(analyzed)
	report.New = analyzed
	report.Flagged = flagged
	report.Stats = Summarize(analyzed)

	if err := p.deps.Dispatcher.Notify(ctx, analyzed, flagged); err != nil {
		report.AlertErr = err.Error()
		log.Error().Err(err).Msg("оповещение доставлено не во все каналы")
	}
	p.saveAnalyses(ctx, job, analyzed)

	log.Info().
		Int("fetched", len(batch)).
		Int("new", len(analyzed)).
		Int("flagged", len(flagged)).
		Int("negative", report.Stats.Negative).
		Msg("проход обнаружения завершён")
	return report, nil
}

func (p *Pipeline) saveAnalyses(ctx context.Context, job domain.DetectionJob, analyzed []domain.AnalyzedReview) {
	if p.deps.AnalysisLog == nil {
		return
	}
	now := p.now().UTC()
	records := make([]domain.AnalysisRecord, 0, len(analyzed))
	for _, item := range analyzed {
		records = append(records, domain.AnalysisRecord{
			JobID:      job.ID,
			Cause:      job.Cause,
			Review:     item.Review,
			Result:     item.Result,
			Flagged:    p.deps.Policy.Flag(item),
			AnalyzedAt: now,
		})
	}
	if err := p.deps.AnalysisLog.SaveAnalyses(ctx, records); err != nil {
		p.log.Error().Err(err).Str("job", job.ID).Msg("не удалось сохранить журнал анализа")
	}
}

// InitializeCache заполняет кэш последними отзывами без оповещений.
func (p *Pipeline) InitializeCache(ctx context.Context) (int, error) {
	if !p.mu.TryLock() {
		return 0, ErrPassInProgress
	}
	defer p.mu.Unlock()
	batch, err := p.deps.Source.FetchLatest(ctx, p.deps.Detector.Cache().Capacity())
	if err != nil {
		return 0, fmt.Errorf("получение отзывов: %w", err)
	}
	return p.deps.Detector.Initialize(ctx, batch), nil
}

// Status возвращает состояние кэша.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	cache := p.deps.Detector.Cache()
	return Status{
		CacheSize:   cache.Len(),
		Capacity:    cache.Capacity(),
		LastUpdated: cache.LastUpdated(),
		Latest:      cache.Entries(),
	}
}

// SnapshotStatus читает состояние кэша из хранилища снимков, не загружая детектор.
func SnapshotStatus(ctx context.Context, store domain.SnapshotStore, capacity int) (Status, error) {
	snap, err := store.Load(ctx)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return Status{Capacity: capacity}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("чтение снимка: %w", err)
	}
	return Status{
		CacheSize:   len(snap.Entries),
		Capacity:    capacity,
		LastUpdated: snap.LastUpdated,
		Latest:      snap.Entries,
	}, nil
}
