package pipeline

import (
	"context"
	"fmt"
	"time"

	"review-monitor/internal/domain"
)

// LatestReport: ответ на запрос последних отзывов.
type LatestReport struct {
	Reviews   []domain.AnalyzedReview `json:"reviews"`
	Flagged   []domain.AnalyzedReview `json:"flagged_reviews"`
	Stats     Statistics              `json:"statistics"`
	FetchedAt time.Time               `json:"fetched_at"`
}

// Analyzer классифицирует последние отзывы по запросу, не трогая кэш.
type Analyzer struct {
	source     domain.ReviewSource
	classifier BatchClassifier
	policy     AlertPolicy
	now        func() time.Time
}

// NewAnalyzer создаёт Analyzer.
func NewAnalyzer(source domain.ReviewSource, classifier BatchClassifier, policy AlertPolicy) *Analyzer {
	return &Analyzer{source: source, classifier: classifier, policy: policy, now: time.Now}
}

// Latest получает и классифицирует limit последних отзывов.
func (a *Analyzer) Latest(ctx context.Context, limit int) (LatestReport, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	batch, err := a.source.FetchLatest(ctx, limit)
	if err != nil {
		return LatestReport{}, fmt.Errorf("получение отзывов: %w", err)
	}
	analyzed := a.classifier.ClassifyBatch(ctx, batch)
	return LatestReport{
		Reviews:   analyzed,
		Flagged:   a.policy.Select(analyzed),
		Stats:     Summarize(analyzed),
		FetchedAt: a.now().UTC(),
	}, nil
}
