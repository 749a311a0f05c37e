package sentiment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"review-monitor/internal/domain"
)

// Chain перебирает стратегии по порядку до первой успешной.
type Chain []domain.SentimentStrategy

// Run возвращает результат первой успешной стратегии.
func (c Chain) Run(ctx context.Context, req domain.ClassifyRequest, log zerolog.Logger) (domain.SentimentResult, bool) {
	for _, strategy := range c {
		if strategy == nil {
			continue
		}
		res, err := tryStrategy(ctx, strategy, req)
		if err != nil {
			log.Warn().Err(err).Str("strategy", strategy.Name()).Msg("классификатор не справился, пробуем следующий")
			continue
		}
		if _, ok := domain.ParseSentiment(string(res.Sentiment)); !ok {
			log.Warn().Str("strategy", strategy.Name()).Str("sentiment", string(res.Sentiment)).Msg("классификатор вернул неизвестную метку")
			continue
		}
		if res.Method == "" {
			res.Method = strategy.Name()
		}
		return res, true
	}
	return domain.SentimentResult{}, false
}

// Len возвращает число стратегий.
func (c Chain) Len() int {
	n := 0
	for _, s := range c {
		if s != nil {
			n++
		}
	}
	return n
}

func tryStrategy(ctx context.Context, s domain.SentimentStrategy, req domain.ClassifyRequest) (res domain.SentimentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", s.Name(), r)
		}
	}()
	return s.TryClassify(ctx, req)
}
