package domain

import (
	"context"
	"errors"
	"time"
)

// ErrSourceUnavailable возвращается, если источник отзывов не ответил.
var ErrSourceUnavailable = errors.New("источник отзывов недоступен")

// ReviewSource отдаёт последние отзывы магазина, от новых к старым.
// Пустой срез без ошибки означает, что отзывов нет.
type ReviewSource interface {
	FetchLatest(ctx context.Context, limit int) ([]Review, error)
}

// CacheSnapshot: сохранённое состояние окна последних отзывов.
type CacheSnapshot struct {
	Entries     []Review  `json:"reviews"`
	LastUpdated time.Time `json:"last_updated"`
	Count       int       `json:"count"`
}

// SnapshotStore сохраняет и загружает снимок кэша целиком.
type SnapshotStore interface {
	Load(ctx context.Context) (CacheSnapshot, error)
	Save(ctx context.Context, snapshot CacheSnapshot) error
}

// ErrSnapshotNotFound возвращается хранилищем, если снимок ещё не записан.
var ErrSnapshotNotFound = errors.New("снимок кэша не найден")

// AlertDispatcher доставляет оповещения о новых отзывах.
type AlertDispatcher interface {
	Notify(ctx context.Context, newReviews, flagged []AnalyzedReview) error
}

// AnalysisRecord: запись журнала классификации.
type AnalysisRecord struct {
	JobID      string
	Cause      TriggerCause
	Review     Review
	Result     SentimentResult
	Flagged    bool
	AnalyzedAt time.Time
}

// AnalysisFilter ограничивает выборку из журнала. Нулевые поля не фильтруют.
type AnalysisFilter struct {
	Limit         int
	Sentiment     Sentiment
	FlaggedOnly   bool
	ConflictsOnly bool
	Since         time.Time
}

// AnalysisLog хранит историю классификаций.
type AnalysisLog interface {
	SaveAnalyses(ctx context.Context, records []AnalysisRecord) error
	ListRecentAnalyses(ctx context.Context, filter AnalysisFilter) ([]AnalysisRecord, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}
