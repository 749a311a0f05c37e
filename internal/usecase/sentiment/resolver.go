package sentiment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"review-monitor/internal/domain"
	"review-monitor/internal/infra/metrics"
)

const (
	// DefaultLowConfidence: порог уверенности (в процентах), ниже которого результат помечается.
	DefaultLowConfidence = 60.0
	// DefaultEscalationTimeout ограничивает вызов второй ступени.
	DefaultEscalationTimeout = 20 * time.Second

	lowConfidenceSuffix = " (확인 필요)"
)

// Options настраивает Resolver.
type Options struct {
	MaxRunes          int
	LowConfidence     float64
	EscalationTimeout time.Duration
	Policy            ConflictPolicy
}

// Resolver классифицирует отзывы в две ступени: быстрая всегда,
// эскалация только при противоречии с оценкой.
type Resolver struct {
	fast       Chain
	escalation Chain
	opts       Options
	log        zerolog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(fast, escalation Chain, opts Options, logger zerolog.Logger) *Resolver {
	if opts.MaxRunes <= 0 {
		opts.MaxRunes = DefaultMaxRunes
	}
	if opts.LowConfidence <= 0 {
		opts.LowConfidence = DefaultLowConfidence
	}
	if opts.EscalationTimeout <= 0 {
		opts.EscalationTimeout = DefaultEscalationTimeout
	}
	if opts.Policy == nil {
		opts.Policy = DefaultConflictPolicy
	}
	return &Resolver{
		fast:       fast,
		escalation: escalation,
		opts:       opts,
		log:        logger.With().Str("component", "sentiment_resolver").Logger(),
	}
}

// Classify определяет тональность одного отзыва.
func (r *Resolver) Classify(ctx context.Context, review domain.Review) domain.SentimentResult {
	res := r.classify(ctx, review)
	metrics.ObserveClassification(res.Method, string(res.Sentiment), string(res.Stage))
	return res
}

func (r *Resolver) classify(ctx context.Context, review domain.Review) domain.SentimentResult {
	text := CleanText(review.Text(), r.opts.MaxRunes)
	if text == "" {
		return domain.Unanalyzable(domain.MethodNone, domain.ErrTagEmptyText)
	}
	log := r.log.With().Str("review", review.ID).Int("rating", review.Rating).Logger()

	req := domain.ClassifyRequest{Text: text, Rating: review.Rating}
	first, ok := r.fast.Run(ctx, req, log)
	if !ok {
		log.Error().Msg("первая ступень недоступна, отзыв не проанализирован")
		return domain.Unanalyzable(domain.MethodLocalFailed, domain.ErrTagClassifierUnavailable)
	}
	first = r.normalize(first)
	first.Stage = domain.StageFinal

	conflict := r.opts.Policy.Detect(first.Sentiment, review.Rating)
	if conflict == domain.ConflictNone {
		return first
	}
	log = log.With().Str("conflict", string(conflict)).Logger()
	log.Info().Str("first_stage", string(first.Sentiment)).Msg("противоречие оценки и тональности, эскалация")

	first.Stage = domain.StageFastFinal
	if r.escalation.Len() == 0 {
		metrics.ObserveConflict(string(conflict), "no_escalation")
		return first
	}

	escCtx, cancel := context.WithTimeout(ctx, r.opts.EscalationTimeout)
	defer cancel()
	firstCopy := first
	req.Conflict = conflict
	req.FirstStage = &firstCopy
	second, ok := r.escalation.Run(escCtx, req, log)
	if !ok {
		log.Warn().Msg("вторая ступень недоступна, оставляем результат первой")
		metrics.ObserveConflict(string(conflict), "degraded")
		return first
	}

	second = r.normalize(second)
	audit := first
	audit.Stage = domain.StageFinal
	second.FirstStage = &audit
	second.ConflictResolved = true
	second.ConflictType = conflict
	second.Stage = domain.StageEscalatedFinal
	metrics.ObserveConflict(string(conflict), "resolved")
	log.Info().
		Str("first_stage", string(first.Sentiment)).
		Str("second_stage", string(second.Sentiment)).
		Msg("противоречие разрешено второй ступенью")
	return second
}

// normalize приводит уверенность к шкале 0–100 и выставляет подпись.
func (r *Resolver) normalize(res domain.SentimentResult) domain.SentimentResult {
	raw := res.ConfidenceRaw
	if math.IsNaN(raw) {
		raw = 0
	}
	raw = math.Max(0, math.Min(raw, 1))
	res.ConfidenceRaw = raw
	res.Confidence = math.Round(raw*10000) / 100
	res.LowConfidence = res.Confidence < r.opts.LowConfidence
	res.Label = res.Sentiment.DisplayLabel()
	if res.LowConfidence {
		res.Label += lowConfidenceSuffix
	}
	return res
}

// ClassifyBatch классифицирует отзывы по порядку; сбой одного отзыва не прерывает остальные.
func (r *Resolver) ClassifyBatch(ctx context.Context, reviews []domain.Review) []domain.AnalyzedReview {
	out := make([]domain.AnalyzedReview, 0, len(reviews))
	for i, review := range reviews {
		r.log.Debug().Int("index", i+1).Int("total", len(reviews)).Str("review", review.ID).Msg("анализ отзыва")
		out = append(out, domain.AnalyzedReview{Review: review, Result: r.classifySafe(ctx, review)})
	}
	return out
}

func (r *Resolver) classifySafe(ctx context.Context, review domain.Review) (res domain.SentimentResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("review", review.ID).Str("panic", fmt.Sprint(rec)).Msg("сбой классификации отзыва")
			res = domain.Unanalyzable(domain.MethodNone, domain.ErrTagInternal)
		}
	}()
	return r.Classify(ctx, review)
}
