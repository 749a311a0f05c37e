package pipeline

import (
	"math"

	"review-monitor/internal/domain"
)

// Statistics: сводка по набору классифицированных отзывов.
type Statistics struct {
	Total             int     `json:"total_reviews"`
	Negative          int     `json:"negative_count"`
	Neutral           int     `json:"neutral_count"`
	Positive          int     `json:"positive_count"`
	Unanalyzable      int     `json:"unanalyzable_count"`
	Escalated         int     `json:"escalated_count"`
	LowConfidence     int     `json:"low_confidence_count"`
	NegativeRatio     float64 `json:"negative_ratio"`
	NeutralRatio      float64 `json:"neutral_ratio"`
	PositiveRatio     float64 `json:"positive_ratio"`
	AverageConfidence float64 `json:"average_confidence"`
}

// Summarize считает статистику. Доли и средняя уверенность в процентах.
func Summarize(items []domain.AnalyzedReview) Statistics {
	st := Statistics{Total: len(items)}
	if st.Total == 0 {
		return st
	}
	var confidence float64
	for _, item := range items {
		res := item.Result
		confidence += res.Confidence
		if res.Error != "" {
			st.Unanalyzable++
			continue
		}
		switch res.Sentiment {
		case domain.SentimentNegative:
			st.Negative++
		case domain.SentimentPositive:
			st.Positive++
		default:
			st.Neutral++
		}
		if res.ConflictResolved {
			st.Escalated++
		}
		if res.LowConfidence {
			st.LowConfidence++
		}
	}
	total := float64(st.Total)
	st.NegativeRatio = round2(float64(st.Negative) / total * 100)
	st.NeutralRatio = round2(float64(st.Neutral) / total * 100)
	st.PositiveRatio = round2(float64(st.Positive) / total * 100)
	st.AverageConfidence = round2(confidence / total)
	return st
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
