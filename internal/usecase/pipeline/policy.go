package pipeline

import "review-monitor/internal/domain"

// AlertPolicy решает, какие классифицированные отзывы требуют внимания.
type AlertPolicy struct {
	// IncludeNeutral добавляет нейтральные отзывы к отрицательным.
	IncludeNeutral bool
	// MinConfidence: нижняя граница уверенности по шкале 0..100.
	MinConfidence float64
}

// Flag сообщает, нужно ли выделить отзыв в оповещении.
func (p AlertPolicy) Flag(item domain.AnalyzedReview) bool {
	res := item.Result
	if res.Error != "" {
		return false
	}
	if res.Confidence < p.MinConfidence {
		return false
	}
	switch res.Sentiment {
	case domain.SentimentNegative:
		return true
	case domain.SentimentNeutral:
		return p.IncludeNeutral
	}
	return false
}

// Select возвращает отмеченные отзывы в исходном порядке.
func (p AlertPolicy) Select(items []domain.AnalyzedReview) []domain.AnalyzedReview {
	var flagged []domain.AnalyzedReview
	for _, item := range items {
		if p.Flag(item) {
			flagged = append(flagged, item)
		}
	}
	return flagged
}
